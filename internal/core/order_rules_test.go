package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func TestCanTransition(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderConfirmed: {OrderPrepared, OrderCancelled},
		OrderPrepared:  {OrderShipped, OrderCancelled},
		OrderShipped:   {OrderDelivered, OrderCancelled},
	}
	all := []OrderStatus{OrderConfirmed, OrderPrepared, OrderShipped, OrderDelivered, OrderCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCheckTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, s := range []OrderStatus{OrderDelivered, OrderCancelled} {
		err := checkTransition(&Order{ID: 7, Status: s}, OrderCancelled)
		require.Error(t, err)
		assert.Equal(t, KindPrecondition, KindOf(err))
		assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	}
}

func TestCheckNotBlocked(t *testing.T) {
	o := &Order{ID: 3, RequiresAdminApproval: true, ApprovalMessage: "Admin approval required: x"}

	assert.NoError(t, checkNotBlocked(MarginPolicy{}, o))

	err := checkNotBlocked(MarginPolicy{BlockWorkflowUntilApproved: true}, o)
	require.Error(t, err)
	assert.Equal(t, CodeApprovalPending, CodeOf(err))
	assert.Contains(t, err.Error(), "Admin approval required: x")

	o.RequiresAdminApproval = false
	assert.NoError(t, checkNotBlocked(MarginPolicy{BlockWorkflowUntilApproved: true}, o))
}

func TestGenerateConfirmationCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateConfirmationCode()
		require.NoError(t, err)
		require.True(t, ValidConfirmationCode(code), "generated %q", code)
		assert.NotEqual(t, '0', rune(code[0]), "code %q has a leading zero", code)
	}
}

func TestValidConfirmationCode(t *testing.T) {
	cases := map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		" 123456": false,
		"":        false,
	}
	for code, want := range cases {
		assert.Equalf(t, want, ValidConfirmationCode(code), "%q", code)
	}
}

func TestConfirmationMatches(t *testing.T) {
	assert.True(t, confirmationMatches(strPtr("482913"), "482913"))
	assert.False(t, confirmationMatches(strPtr("482913"), "482914"))
	assert.False(t, confirmationMatches(nil, "482913"))
}

func TestDecideAssignment(t *testing.T) {
	admin := Actor{ID: 1, Role: RoleAdmin}
	agent5 := Actor{ID: 5, Role: RoleLivreur}
	agent6 := Actor{ID: 6, Role: RoleLivreur}

	tests := []struct {
		name    string
		current *int
		actor   Actor
		agentID int
		changed bool
		code    string
	}{
		{"admin assigns unassigned", nil, admin, 5, true, ""},
		{"agent claims unassigned", nil, agent5, 5, true, ""},
		{"same agent again is a no-op", intPtr(5), agent5, 5, false, ""},
		{"admin re-assigns same agent", intPtr(5), admin, 5, false, ""},
		{"second agent loses the race", intPtr(5), agent6, 6, false, CodeAlreadyAssigned},
		{"admin cannot override a claim", intPtr(5), admin, 6, false, CodeAlreadyAssigned},
		{"current agent hands over", intPtr(5), agent5, 6, true, ""},
		{"agent cannot claim for someone else", nil, agent5, 6, false, CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := decideAssignment(tt.current, tt.actor, tt.agentID)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestRolePermissions(t *testing.T) {
	client := Actor{ID: 10, Role: RoleClient}
	agent := Actor{ID: 5, Role: RoleLivreur}
	mag := Actor{ID: 2, Role: RoleMagasinier}
	admin := Actor{ID: 1, Role: RoleAdmin}

	assert.True(t, admin.Can(PermVoidInvoice))
	assert.True(t, admin.Can(PermApproveOrder))
	assert.False(t, mag.Can(PermApproveOrder))
	assert.False(t, mag.Can(PermRecordPayment))
	assert.True(t, mag.Can(PermPrepareOrder))
	assert.False(t, client.Can(PermPrepareOrder))
	assert.False(t, agent.Can(PermShipOrder))
	assert.True(t, agent.Can(PermConfirmDelivery))
	assert.False(t, Actor{ID: 9, Role: "GUEST"}.Can(PermCreateOrder))

	err := Authorize(client, PermAdjustStock)
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestCanViewOrder(t *testing.T) {
	owned := &Order{UserID: 10, Status: OrderConfirmed}
	unclaimed := &Order{UserID: 11, Status: OrderPrepared}
	claimed := &Order{UserID: 11, Status: OrderShipped, DeliveryAgentID: intPtr(5)}

	assert.True(t, canViewOrder(Actor{ID: 10, Role: RoleClient}, owned))
	assert.False(t, canViewOrder(Actor{ID: 12, Role: RoleClient}, owned))
	assert.True(t, canViewOrder(Actor{ID: 2, Role: RoleMagasinier}, owned))

	assert.False(t, canViewOrder(Actor{ID: 5, Role: RoleLivreur}, owned))
	assert.True(t, canViewOrder(Actor{ID: 5, Role: RoleLivreur}, unclaimed))
	assert.True(t, canViewOrder(Actor{ID: 5, Role: RoleLivreur}, claimed))
	assert.False(t, canViewOrder(Actor{ID: 6, Role: RoleLivreur}, claimed))
}

func TestRedactFor(t *testing.T) {
	fresh := func() *Order {
		return &Order{UserID: 10, DeliveryConfirmationCode: strPtr("123456")}
	}

	o := fresh()
	redactFor(Actor{ID: 10, Role: RoleClient}, o)
	assert.NotNil(t, o.DeliveryConfirmationCode)

	o = fresh()
	redactFor(Actor{ID: 1, Role: RoleAdmin}, o)
	assert.NotNil(t, o.DeliveryConfirmationCode)

	for _, a := range []Actor{{ID: 5, Role: RoleLivreur}, {ID: 2, Role: RoleMagasinier}, {ID: 11, Role: RoleClient}} {
		o = fresh()
		redactFor(a, o)
		assert.Nilf(t, o.DeliveryConfirmationCode, "visible to %s %d", a.Role, a.ID)
	}
}

func TestCanModifyOrder(t *testing.T) {
	invoiced := &Invoice{InvoiceNumber: "FAC-20260118-0049", CreatedAt: time.Now()}

	assert.NoError(t, CanModifyOrder(&Order{Status: OrderConfirmed}, nil))
	assert.NoError(t, CanModifyOrder(&Order{Status: OrderShipped}, nil))
	assert.NoError(t, CanModifyOrder(&Order{Status: OrderShipped}, &Invoice{}))

	err := CanModifyOrder(&Order{Status: OrderDelivered}, nil)
	assert.Equal(t, CodeOrderLocked, CodeOf(err))
	err = CanModifyOrder(&Order{Status: OrderCancelled}, nil)
	assert.Equal(t, CodeOrderLocked, CodeOf(err))

	err = CanModifyOrder(&Order{Status: OrderShipped}, invoiced)
	assert.Equal(t, CodeInvoiceLocked, CodeOf(err))
	assert.Contains(t, err.Error(), "FAC-20260118-0049")
}

func TestStockDecremented(t *testing.T) {
	assert.False(t, (&Order{Status: OrderConfirmed}).stockDecremented())
	assert.True(t, (&Order{Status: OrderPrepared}).stockDecremented())
	assert.True(t, (&Order{Status: OrderShipped}).stockDecremented())
	assert.True(t, (&Order{Status: OrderDelivered}).stockDecremented())
	assert.False(t, (&Order{Status: OrderCancelled}).stockDecremented())
}
