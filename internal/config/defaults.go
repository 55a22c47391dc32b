package config

const (
	defaultBackendURL        = "http://127.0.0.1:8765"
	defaultBackendTimeout    = 15
	defaultStateDir          = "~/.local/share/matchreview"
	defaultLogDir            = "~/.local/share/matchreview/logs"
	defaultCandidateSpan     = 2
	defaultCandidateK        = 50
	defaultBucket            = "top"
	defaultLoopCount         = 1
	defaultSyncPolicy        = "joint"
	defaultTickMillis        = 20
	defaultFFprobeBinary     = "ffprobe"
	defaultCrossLimitSeconds = 6.0
	defaultRatioMin          = 20.0
	defaultMinGapSeconds     = 1.0
	defaultDominance         = 5.0
	defaultControlBind       = "127.0.0.1:8766"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Backend: Backend{
			BaseURL:        defaultBackendURL,
			TimeoutSeconds: defaultBackendTimeout,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Candidates: Candidates{
			Span:          defaultCandidateSpan,
			K:             defaultCandidateK,
			DefaultBucket: defaultBucket,
		},
		Player: Player{
			LoopCount:     defaultLoopCount,
			SyncPolicy:    defaultSyncPolicy,
			TickMillis:    defaultTickMillis,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Anomaly: Anomaly{
			CrossLimitSeconds: defaultCrossLimitSeconds,
			RatioMin:          defaultRatioMin,
			MinGapSeconds:     defaultMinGapSeconds,
			Dominance:         defaultDominance,
		},
		Control: Control{
			Bind: defaultControlBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
