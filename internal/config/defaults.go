package config

const (
	defaultDataDir              = "~/.local/share/recflow"
	defaultLogDir               = "~/.local/share/recflow/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultLogMaxSizeMB         = 50
	defaultLogMaxBackups        = 5
	defaultHeartbeatTimeout     = 1800
	defaultStaleScanSchedule    = "@every 1m"
	defaultResolverCacheTTL     = 300
	defaultLockTimeout          = 30
	defaultRedisAddr            = "127.0.0.1:6379"
	defaultRedisReportKey       = "recflow:reports"
	defaultRedisDeadLetterKey   = "recflow:reports:dlq"
	defaultRedisBlockTimeout    = 5
	defaultRedisMaxAttempts     = 3
	defaultRedisRequeueDelaySec = 2
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Workflow: Workflow{
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			StaleScanSchedule: defaultStaleScanSchedule,
			ResolverCacheTTL:  defaultResolverCacheTTL,
			LockTimeout:       defaultLockTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
		},
		Redis: Redis{
			Addr:          defaultRedisAddr,
			ReportKey:     defaultRedisReportKey,
			DeadLetterKey: defaultRedisDeadLetterKey,
			BlockTimeout:  defaultRedisBlockTimeout,
			MaxAttempts:   defaultRedisMaxAttempts,
			RequeueDelay:  defaultRedisRequeueDelaySec,
		},
		Defaults: map[string]any{
			"processing": map[string]any{
				"allow_errors": false,
			},
		},
	}
}
