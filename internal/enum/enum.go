package enum

// ── State machines (CHECK constrained in DB) ──

const (
	TableStatusAvailable      = "available"
	TableStatusOccupied       = "occupied"
	TableStatusReserved       = "reserved"
	TableStatusNeedsAttention = "needs_attention"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
)

// ── Configurable labels (no DB constraint) ──

const (
	PaymentMethodCash = "cash"
	PaymentMethodPix  = "pix"
	PaymentMethodCard = "card"
)

const (
	WaiterCallStatusPending      = "pending"
	WaiterCallStatusAcknowledged = "acknowledged"
)

const (
	StaffRoleAdmin   = "admin"
	StaffRoleWaiter  = "waiter"
	StaffRoleKitchen = "kitchen"
)

// Token classes differ only in TTL and in who may mint them.
const (
	TokenClassGuest    = "guest"
	TokenClassOperator = "operator"
)

// Deprecated spellings still emitted by older clients. They are rewritten to
// the canonical value at the API boundary and never stored.
var statusAliases = map[string]string{
	"awaiting_payment": TableStatusNeedsAttention,
	"paid":             OrderStatusDelivered,
}

// Canonical rewrites deprecated aliases to their canonical status value.
// Unknown values pass through so validation can reject them with context.
func Canonical(status string) string {
	if canon, ok := statusAliases[status]; ok {
		return canon
	}
	return status
}

func IsValidTableStatus(s string) bool {
	switch s {
	case TableStatusAvailable, TableStatusOccupied, TableStatusReserved, TableStatusNeedsAttention:
		return true
	}
	return false
}

func IsValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusReady, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func IsValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

func IsValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodPix, PaymentMethodCard:
		return true
	}
	return false
}

// IsTerminalPaymentStatus reports whether a payment status is terminal.
// Terminal payments are immutable.
func IsTerminalPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// IsSettledOrderStatus reports whether an order no longer counts toward a
// table's active order set.
func IsSettledOrderStatus(s string) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}
