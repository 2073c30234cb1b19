package library

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SyncMode is how runs of a directory are triggered.
type SyncMode string

// Sync modes.
const (
	ModeManual    SyncMode = "manual"
	ModeScheduled SyncMode = "scheduled"
	ModeWatch     SyncMode = "watch"
)

// legacyModes maps the labels stored by earlier releases.
var legacyModes = map[string]SyncMode{
	"手动":   ModeManual,
	"定时":   ModeScheduled,
	"监控变更": ModeWatch,
}

// UnmarshalJSON accepts both current and legacy labels.
func (m *SyncMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if legacy, ok := legacyModes[s]; ok {
		*m = legacy
		return nil
	}
	*m = SyncMode(strings.ToLower(s))
	return nil
}

func (m SyncMode) valid() bool {
	switch m {
	case ModeManual, ModeScheduled, ModeWatch:
		return true
	}
	return false
}

// Transport is the kind of source a directory reads from.
type Transport string

// Transports.
const (
	TransportLocal    Transport = "local"
	TransportWebDAV   Transport = "webdav"
	TransportAlist302 Transport = "alist302"
)

var legacyTransports = map[string]Transport{
	"本地路径":     TransportLocal,
	"WebDAV":   TransportWebDAV,
	"alist302": TransportAlist302,
}

// UnmarshalJSON accepts both current and legacy labels.
func (t *Transport) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if legacy, ok := legacyTransports[s]; ok {
		*t = legacy
		return nil
	}
	*t = Transport(strings.ToLower(s))
	return nil
}

func (t Transport) valid() bool {
	switch t {
	case TransportLocal, TransportWebDAV, TransportAlist302:
		return true
	}
	return false
}

// MetaMode controls what happens to metadata files found in the source.
type MetaMode int

// Metadata modes.
const (
	MetaOff     MetaMode = 1
	MetaCopy    MetaMode = 2
	MetaSymlink MetaMode = 3
)

// Status is the run state of a directory. The numeric values are part of
// the persisted format.
type Status int

// Run states.
const (
	StatusIdle        Status = 1
	StatusRunning     Status = 2
	StatusInterrupted Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Counter is a [succeeded, failed] pair.
type Counter [2]int

// RunCounters summarizes one sync run.
type RunCounters struct {
	Strm   Counter `json:"strm"`
	Meta   Counter `json:"meta"`
	Delete Counter `json:"delete"`
}

// Extra is the runtime substate of a directory. It is written only by the
// job supervisor and the job process itself.
type Extra struct {
	PID            int         `json:"pid"`
	Status         Status      `json:"status"`
	LastSyncAt     string      `json:"last_sync_at"`
	LastSyncResult RunCounters `json:"last_sync_result"`
}

// DefaultExtra is the substate of a directory that never ran.
func DefaultExtra() Extra {
	return Extra{Status: StatusIdle}
}

// Running reports whether a job process is recorded for the directory.
func (e Extra) Running() bool {
	return e.PID > 0
}

// normalize enforces pid>0 ⇔ status=running.
func (e *Extra) normalize() {
	switch {
	case e.PID > 0:
		e.Status = StatusRunning
	case e.Status == StatusRunning || e.Status == 0:
		e.Status = StatusIdle
	}
}

// Definition holds the user-editable fields of a sync directory.
type Definition struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         Transport `json:"type"`
	StrmRootPath string    `json:"strm_root_path"`
	MountRoot    string    `json:"path_of_115"`
	CopyMetaFile MetaMode  `json:"copy_meta_file"`
	CopyDelay    float64   `json:"copy_delay"`
	WebDAVURL    string    `json:"webdav_url"`
	WebDAVUser   string    `json:"webdav_username"`
	WebDAVPass   string    `json:"webdav_password"`
	SyncType     SyncMode  `json:"sync_type"`
	CronStr      string    `json:"cron_str"`
	AccountKey   string    `json:"id_of_115"`
	StrmExt      []string  `json:"strm_ext"`
	MetaExt      []string  `json:"meta_ext"`
	MountPath    string    `json:"mount_path"`
	AlistServer  string    `json:"alist_server"`
	Alist115Path string    `json:"alist_115_path"`
	CloudType    string    `json:"cloud_type"`
}

// Directory is a sync directory: its key, definition and runtime substate.
type Directory struct {
	Key string `json:"key"`
	Definition
	Extra Extra `json:"extra"`
}

// SourceDir returns the absolute source directory of the directory on the
// local mount.
func (d Directory) SourceDir() string {
	if d.MountRoot == "" {
		return d.Path
	}
	return strings.TrimRight(d.MountRoot, "/") + "/" + strings.TrimLeft(d.Path, "/")
}

// DirectoryPatch is a partial update of a definition. Nil fields are left
// unchanged.
type DirectoryPatch struct {
	Name         *string    `json:"name,omitempty"`
	Path         *string    `json:"path,omitempty"`
	Type         *Transport `json:"type,omitempty"`
	StrmRootPath *string    `json:"strm_root_path,omitempty"`
	MountRoot    *string    `json:"path_of_115,omitempty"`
	CopyMetaFile *MetaMode  `json:"copy_meta_file,omitempty"`
	CopyDelay    *float64   `json:"copy_delay,omitempty"`
	WebDAVURL    *string    `json:"webdav_url,omitempty"`
	WebDAVUser   *string    `json:"webdav_username,omitempty"`
	WebDAVPass   *string    `json:"webdav_password,omitempty"`
	SyncType     *SyncMode  `json:"sync_type,omitempty"`
	CronStr      *string    `json:"cron_str,omitempty"`
	AccountKey   *string    `json:"id_of_115,omitempty"`
	StrmExt      []string   `json:"strm_ext,omitempty"`
	MetaExt      []string   `json:"meta_ext,omitempty"`
	MountPath    *string    `json:"mount_path,omitempty"`
	AlistServer  *string    `json:"alist_server,omitempty"`
	Alist115Path *string    `json:"alist_115_path,omitempty"`
	CloudType    *string    `json:"cloud_type,omitempty"`
}

// Apply copies the set fields of p onto def.
func (p DirectoryPatch) Apply(def *Definition) {
	setIf(&def.Name, p.Name)
	setIf(&def.Path, p.Path)
	setIf(&def.Type, p.Type)
	setIf(&def.StrmRootPath, p.StrmRootPath)
	setIf(&def.MountRoot, p.MountRoot)
	setIf(&def.CopyMetaFile, p.CopyMetaFile)
	setIf(&def.CopyDelay, p.CopyDelay)
	setIf(&def.WebDAVURL, p.WebDAVURL)
	setIf(&def.WebDAVUser, p.WebDAVUser)
	setIf(&def.WebDAVPass, p.WebDAVPass)
	setIf(&def.SyncType, p.SyncType)
	setIf(&def.CronStr, p.CronStr)
	setIf(&def.AccountKey, p.AccountKey)
	setIf(&def.MountPath, p.MountPath)
	setIf(&def.AlistServer, p.AlistServer)
	setIf(&def.Alist115Path, p.Alist115Path)
	setIf(&def.CloudType, p.CloudType)
	if p.StrmExt != nil {
		def.StrmExt = p.StrmExt
	}
	if p.MetaExt != nil {
		def.MetaExt = p.MetaExt
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Account is a stored cloud drive credential.
type Account struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Cookie    string `json:"cookie"`
	Status    int    `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Settings are the global, API-editable settings.
type Settings struct {
	Username         string `json:"username"`
	PasswordHash     string `json:"-"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramUserID   string `json:"telegram_user_id"`
}

// NotifyConfigured reports whether Telegram notifications can be sent.
func (s Settings) NotifyConfigured() bool {
	return s.TelegramBotToken != "" && s.TelegramUserID != ""
}
