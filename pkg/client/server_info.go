package client

import (
	"time"

	"github.com/aeolun/wired/pkg/protocol"
)

// Application identifies a client or server build.
type Application struct {
	Name    string
	Version string
	Build   string
}

// ServerInfo is the parsed wired.server_info reply. Optional fields the
// server omitted are zero: no banner, zero counters, zero speeds.
type ServerInfo struct {
	Application Application
	OSName      string
	OSVersion   string
	Arch        string

	SupportsResourceForks bool

	Name        string
	Description string
	Banner      []byte
	StartTime   time.Time

	Downloads     uint32
	Uploads       uint32
	DownloadSpeed uint32
	UploadSpeed   uint32
	FilesCount    uint64
	FilesSize     uint64
}

// ParseServerInfo reads a wired.server_info message.
func ParseServerInfo(m *protocol.Message) ServerInfo {
	var info ServerInfo
	info.Application.Name, _ = m.String("wired.info.application.name")
	info.Application.Version, _ = m.String("wired.info.application.version")
	info.Application.Build, _ = m.String("wired.info.application.build")
	info.OSName, _ = m.String("wired.info.os.name")
	info.OSVersion, _ = m.String("wired.info.os.version")
	info.Arch, _ = m.String("wired.info.arch")
	info.SupportsResourceForks, _ = m.Bool("wired.info.supports_rsrc")
	info.Name, _ = m.String("wired.info.name")
	info.Description, _ = m.String("wired.info.description")
	info.Banner, _ = m.Data("wired.info.banner")
	info.StartTime, _ = m.Date("wired.info.start_time")
	info.Downloads, _ = m.Uint32("wired.info.downloads")
	info.Uploads, _ = m.Uint32("wired.info.uploads")
	info.DownloadSpeed, _ = m.Uint32("wired.info.download_speed")
	info.UploadSpeed, _ = m.Uint32("wired.info.upload_speed")
	info.FilesCount, _ = m.Uint64("wired.info.files.count")
	info.FilesSize, _ = m.Uint64("wired.info.files.size")
	return info
}

// Privileges is the set of account privileges granted at login, keyed by
// field name.
type Privileges map[string]bool

// ParsePrivileges reads a wired.account.privileges message. Privileges the
// server omitted are false.
func ParsePrivileges(m *protocol.Message) Privileges {
	p := make(Privileges)
	for _, name := range m.Catalog().Privileges() {
		v, _ := m.Bool(name)
		p[name] = v
	}
	return p
}

// Has reports whether privilege name was granted.
func (p Privileges) Has(name string) bool { return p[name] }
