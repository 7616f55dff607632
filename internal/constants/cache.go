package constants

// Cache column encodings.
const (
	DateSeparator        = "|"
	ReminderSeparator    = "||"
	ReminderTimeDaysSep  = "##"
	ReminderDaySeparator = ","
	RequestIDSeparator   = ","
	RedisReminderPrefix  = "habitual:reminders:"
)
