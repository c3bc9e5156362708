package core

// Role is a caller's role as supplied by the identity provider.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleMagasinier Role = "MAGASINIER"
	RoleClient     Role = "CLIENT"
	RoleLivreur    Role = "LIVREUR"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMagasinier, RoleClient, RoleLivreur:
		return true
	}
	return false
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   int
	Role Role
}

// Permission names one gated operation.
type Permission string

const (
	PermCreateOrder     Permission = "order:create"
	PermViewAnyOrder    Permission = "order:view_any"
	PermApproveOrder    Permission = "order:approve"
	PermPrepareOrder    Permission = "order:prepare"
	PermShipOrder       Permission = "order:ship"
	PermAssignAgent     Permission = "order:assign_agent"
	PermConfirmDelivery Permission = "order:confirm_delivery"
	PermCancelOrder     Permission = "order:cancel"
	PermEditOrderLines  Permission = "order:edit_lines"
	PermRecordPayment   Permission = "invoice:record_payment"
	PermVoidInvoice     Permission = "invoice:void"
	PermAdjustStock     Permission = "stock:adjust"
	PermViewStock       Permission = "stock:view"
)

var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermCreateOrder: true, PermViewAnyOrder: true, PermApproveOrder: true,
		PermPrepareOrder: true, PermShipOrder: true, PermAssignAgent: true,
		PermConfirmDelivery: true, PermCancelOrder: true, PermEditOrderLines: true,
		PermRecordPayment: true, PermVoidInvoice: true, PermAdjustStock: true,
		PermViewStock: true,
	},
	RoleMagasinier: {
		PermViewAnyOrder: true, PermPrepareOrder: true, PermShipOrder: true,
		PermAssignAgent: true, PermConfirmDelivery: true, PermCancelOrder: true,
		PermEditOrderLines: true, PermAdjustStock: true, PermViewStock: true,
	},
	// A client only ever acts on its own orders; ownership is checked per call.
	RoleClient: {
		PermCreateOrder: true, PermCancelOrder: true, PermEditOrderLines: true,
	},
	// A delivery agent acts on orders assigned to it.
	RoleLivreur: {
		PermAssignAgent: true, PermConfirmDelivery: true,
	},
}

// Can reports whether the actor's role grants p.
func (a Actor) Can(p Permission) bool {
	return rolePermissions[a.Role][p]
}

// Authorize returns a FORBIDDEN error unless a's role grants p.
func Authorize(a Actor, p Permission) error {
	if !a.Can(p) {
		return forbiddenError("role %s may not perform %s", a.Role, p)
	}
	return nil
}

// canViewOrder applies per-order visibility on top of the role matrix.
// Delivery agents see their own orders and the unclaimed ones ready to go out.
func canViewOrder(a Actor, o *Order) bool {
	switch a.Role {
	case RoleAdmin, RoleMagasinier:
		return true
	case RoleClient:
		return o.UserID == a.ID
	case RoleLivreur:
		if o.DeliveryAgentID != nil {
			return *o.DeliveryAgentID == a.ID
		}
		return o.Status == OrderPrepared || o.Status == OrderShipped
	}
	return false
}

// redactFor hides the delivery confirmation code from everyone but the
// ordering client and admins.
func redactFor(a Actor, o *Order) {
	if a.Role == RoleAdmin || (a.Role == RoleClient && o.UserID == a.ID) {
		return
	}
	o.DeliveryConfirmationCode = nil
}
