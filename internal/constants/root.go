package constants

import "time"

const (
	AppName                  = "habitual"
	DefaultKeyringUser       = "remote-connection"
	SessionKeyringUser       = "session-token"
	SessionSecretKeyringUser = "session-secret"
	DefaultConfigDir         = "~/.config/habitual"
	DefaultDatabaseName      = "habitual.db"
	DefaultConfigFile        = "config.yaml"
	Version                  = "v0.3.0"
	EnvPrefix                = "HABITUAL_"
	RemoteChangesChannel     = "habit_changes"

	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the standard time format used throughout the application (HH:MM)
	TimeFormat = "15:04"

	// Habit constraints
	MaxHabitNameLength  = 100
	MaxHabitNotesLength = 250
	MinWeeklyGoal       = 1
	MaxWeeklyGoal       = 7
	DefaultWeeklyGoal   = 5
	DefaultIcon         = "🔥"

	// Reminder scheduling
	TriggerHorizonDays   = 14
	DefaultSnoozeMinutes = 30
	SnoozeKeySuffix      = "#snooze"

	// Analytics
	AttentionThreshold = 0.6
	WeeklyWindowDays   = 7
	MonthlyWindowDays  = 30
	TrendWindowDays    = 14

	// Session tokens issued on anonymous sign-in
	SessionTokenTTL = 365 * 24 * time.Hour

	// Notify constants
	NotifierLockfileName   = "habitual-notifier.lock"
	NotificationDurationMs = 5000
	TrayAppIdentifier      = "com.julianstephens.habitual"
	TrayExecutablePrefix   = "habitual-tray"
)

// IconPalette is the fixed set of icons a habit can use.
var IconPalette = []string{"🔥", "✅", "💧", "📚", "🏃‍♂️", "🧘", "🕗", "🥦", "☕", "🎯"}
