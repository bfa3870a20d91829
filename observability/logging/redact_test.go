package logging

import "testing"

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"email", "customer_email", "Contact_Name", " PHONE ", "authorization"} {
		if !IsSensitive(key) {
			t.Fatalf("%q not recognized as sensitive", key)
		}
	}
	for _, key := range []string{"order_id", "table_code", "email_hash", "session_id"} {
		if IsSensitive(key) {
			t.Fatalf("%q flagged as sensitive", key)
		}
	}
}

func TestMaskField(t *testing.T) {
	attr := MaskField("email", "ana@example.com")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("email not masked: %v", attr.Value)
	}

	attr = MaskField("table_code", "T-M01")
	if attr.Value.String() != "T-M01" {
		t.Fatalf("non-sensitive field masked: %v", attr.Value)
	}

	// Empty values stay visible so readers can tell absent from redacted.
	attr = MaskField("email", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty value rewritten: %v", attr.Value)
	}
}
