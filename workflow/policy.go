package workflow

import (
	"mesaops/models"
)

// Action names the intent behind a transition edge. One action may own
// several edges (cancel), and one edge maps to exactly one action.
type Action string

const (
	ActionAcceptOrQueue       Action = "accept_or_queue"
	ActionCancel              Action = "cancel"
	ActionKitchenStart        Action = "kitchen_start"
	ActionSkipKitchen         Action = "skip_kitchen"
	ActionKitchenComplete     Action = "kitchen_complete"
	ActionDeliver             Action = "deliver"
	ActionMarkAwaitingPayment Action = "mark_awaiting_payment"
	ActionPay                 Action = "pay"
	ActionPayDirect           Action = "pay_direct"
)

type edge struct {
	from, to models.OrderStatus
}

// policy is the authorization record attached to one edge.
type policy struct {
	action                Action
	scopes                []models.Scope
	requiresJustification bool
}

func (p policy) allows(scope models.Scope) bool {
	for _, s := range p.scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// transitionPolicies is the fixed transition table. Every legal edge of the
// order state machine appears here; paid and cancelled have no outgoing
// edges.
var transitionPolicies = map[edge]policy{
	{models.OrderNew, models.OrderQueued}: {
		action: ActionAcceptOrQueue,
		scopes: []models.Scope{models.ScopeWaiter, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderNew, models.OrderCancelled}: {
		action: ActionCancel,
		scopes: []models.Scope{models.ScopeClient, models.ScopeWaiter, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderQueued, models.OrderPreparing}: {
		action: ActionKitchenStart,
		scopes: []models.Scope{models.ScopeChef, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderQueued, models.OrderReady}: {
		action: ActionSkipKitchen,
		scopes: []models.Scope{models.ScopeSystem},
	},
	{models.OrderQueued, models.OrderCancelled}: {
		action: ActionCancel,
		scopes: []models.Scope{models.ScopeClient, models.ScopeWaiter, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderPreparing, models.OrderReady}: {
		action: ActionKitchenComplete,
		scopes: []models.Scope{models.ScopeChef, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderPreparing, models.OrderCancelled}: {
		action:                ActionCancel,
		scopes:                []models.Scope{models.ScopeWaiter, models.ScopeAdmin, models.ScopeSystem},
		requiresJustification: true,
	},
	{models.OrderReady, models.OrderDelivered}: {
		action: ActionDeliver,
		scopes: []models.Scope{models.ScopeWaiter, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderReady, models.OrderCancelled}: {
		action:                ActionCancel,
		scopes:                []models.Scope{models.ScopeAdmin, models.ScopeSystem},
		requiresJustification: true,
	},
	{models.OrderDelivered, models.OrderAwaitingPayment}: {
		action: ActionMarkAwaitingPayment,
		scopes: []models.Scope{models.ScopeCashier, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderDelivered, models.OrderPaid}: {
		action:                ActionPayDirect,
		scopes:                []models.Scope{models.ScopeAdmin, models.ScopeSystem},
		requiresJustification: true,
	},
	{models.OrderDelivered, models.OrderCancelled}: {
		action:                ActionCancel,
		scopes:                []models.Scope{models.ScopeAdmin, models.ScopeSystem},
		requiresJustification: true,
	},
	{models.OrderAwaitingPayment, models.OrderPaid}: {
		action: ActionPay,
		scopes: []models.Scope{models.ScopeCashier, models.ScopeAdmin, models.ScopeSystem},
	},
	{models.OrderAwaitingPayment, models.OrderCancelled}: {
		action:                ActionCancel,
		scopes:                []models.Scope{models.ScopeAdmin, models.ScopeSystem},
		requiresJustification: true,
	},
}

// lookupPolicy resolves the policy record for an edge.
func lookupPolicy(from, to models.OrderStatus) (policy, bool) {
	p, ok := transitionPolicies[edge{from, to}]
	return p, ok
}
