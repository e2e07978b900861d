package config

const (
	defaultStagingDir             = "~/.local/share/snapkeep/staging"
	defaultStateDir               = "~/.local/share/snapkeep"
	defaultLogDir                 = "~/.local/share/snapkeep/logs"
	defaultLogRetentionDays       = 60
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultAPIBind                = "127.0.0.1:7488"
	defaultCaptureCommand         = "raspistill"
	defaultCaptureFormat          = "jpg"
	defaultCaptureTimeoutSeconds  = 120
	defaultRemoteProtocol         = "curl"
	defaultPasswordSource         = "config"
	defaultCurlCommand            = "curl"
	defaultTransferTimeoutSeconds = 86400
	defaultListTimeoutSeconds     = 3600
	defaultDeleteTimeoutSeconds   = 3600
	defaultRetentionSelection     = SelectionLast
	defaultMetricsPath            = "/metrics"
	defaultKnownHostsPath         = "~/.config/snapkeep/known_hosts"
	defaultNotifyTimeoutSeconds   = 10
)

// Handler names accepted in [schedule.events].
const (
	HandlerSnapshotUpload = "snapshot_upload"
	HandlerUploadAll      = "upload_all"
	HandlerDeleteOld      = "delete_old"
	HandlerPruneLogs      = "prune_logs"
)

// Retention selection policies.
const (
	SelectionLast   = "last"
	SelectionFirst  = "first"
	SelectionOldest = "oldest"
)

// Remote protocols.
const (
	ProtocolCurl = "curl"
	ProtocolFTP  = "ftp"
	ProtocolFTPS = "ftps"
	ProtocolSFTP = "sftp"
)

// Password sources.
const (
	PasswordFromConfig  = "config"
	PasswordFromEnv     = "env"
	PasswordFromKeyring = "keyring"
)

// RemotePasswordEnv is consulted when remote.password_source is "env".
const RemotePasswordEnv = "SNAPKEEP_REMOTE_PASSWORD"

// RemoteHostEnv supplies remote.host when the file leaves it empty.
const RemoteHostEnv = "SNAPKEEP_REMOTE_HOST"

// KeyringService is the keyring service name used for remote passwords.
const KeyringService = "snapkeep"

var handlerAliases = map[string]string{
	"snapshotUpload": HandlerSnapshotUpload,
	"uploadAllFiles": HandlerUploadAll,
	"deleteOldFiles": HandlerDeleteOld,
}

// HandlerNames lists the canonical schedule handler names.
func HandlerNames() []string {
	return []string{HandlerSnapshotUpload, HandlerUploadAll, HandlerDeleteOld, HandlerPruneLogs}
}

// defaultScheduleEvents applies when the file has no [schedule.events] table.
// Decoding merges into an existing map, so Default leaves Events nil.
func defaultScheduleEvents() map[string]string {
	return map[string]string{
		"00:00": HandlerSnapshotUpload,
		"01:00": HandlerDeleteOld,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Capture: Capture{
			Command:        defaultCaptureCommand,
			Format:         defaultCaptureFormat,
			TimeoutSeconds: defaultCaptureTimeoutSeconds,
		},
		Remote: Remote{
			Protocol:               defaultRemoteProtocol,
			PasswordSource:         defaultPasswordSource,
			CurlCommand:            defaultCurlCommand,
			KnownHostsPath:         defaultKnownHostsPath,
			TransferTimeoutSeconds: defaultTransferTimeoutSeconds,
			ListTimeoutSeconds:     defaultListTimeoutSeconds,
			DeleteTimeoutSeconds:   defaultDeleteTimeoutSeconds,
		},
		Retention: Retention{
			Selection: defaultRetentionSelection,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
	}
}
