package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

const (
	RoleGuest = "guest"
	RoleHost  = "host"
)

const (
	// DefaultCacheTTL время жизни записей кэша чтения, в секундах
	DefaultCacheTTL = 300

	// DefaultCacheSweepInterval период очистки просроченных записей, в секундах
	DefaultCacheSweepInterval = 5 * 60

	// DefaultBlockReason причина блокировки по умолчанию
	DefaultBlockReason = "Unavailable"

	// DefaultMaxBookingDays горизонт бронирования по умолчанию
	DefaultMaxBookingDays = 365

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 1000
)

var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
}

// CanTransition reports whether a booking may move from one status to another.
// Rejected and cancelled bookings are terminal.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}
