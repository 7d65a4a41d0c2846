package config

const (
	defaultStateDir            = "~/.local/share/courier"
	defaultAPIBind             = "127.0.0.1:7488"
	defaultRPCURL              = "http://127.0.0.1:6810/rpc"
	defaultEventsURL           = "ws://127.0.0.1:6810/events"
	defaultRequestTimeout      = 10
	defaultReconnectMaxBackoff = 30
	defaultTickInterval        = 5
	defaultStallThreshold      = 30
	defaultStallRemovalDelay   = 5
	defaultSavedDelay          = 5
	defaultExtractedDelay      = 5
	defaultFailedDelay         = 10
	defaultCanceledDelay       = 5
	defaultJournalRetention    = 30
	defaultNotifyTimeout       = 10
	defaultLogRetention        = 14
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Backend: Backend{
			RPCURL:              defaultRPCURL,
			EventsURL:           defaultEventsURL,
			RequestTimeout:      defaultRequestTimeout,
			ReconnectMaxBackoff: defaultReconnectMaxBackoff,
		},
		Liveness: Liveness{
			TickInterval:      defaultTickInterval,
			StallThreshold:    defaultStallThreshold,
			StallRemovalDelay: defaultStallRemovalDelay,
		},
		Removal: Removal{
			SavedDelay:     defaultSavedDelay,
			ExtractedDelay: defaultExtractedDelay,
			FailedDelay:    defaultFailedDelay,
			CanceledDelay:  defaultCanceledDelay,
		},
		Journal: Journal{
			Enabled:       true,
			RetentionDays: defaultJournalRetention,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetention,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
	}
}
