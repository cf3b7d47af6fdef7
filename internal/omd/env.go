// Package omd resolves the OMD site layout a forwarder run lives in.
//
// All per-runner files (log, spool, lock) are derived from $OMD_ROOT and the
// runner name, so two runs of the same forwarder share one spool.
package omd

import (
	"net"
	"os"
	"path/filepath"
	"strings"
)

// UnknownSite is what ends up in omd_site when a run happens outside a site.
const UnknownSite = "get https://omd.consol.de/docs/omd"

type Env struct {
	Root     string
	Site     string
	Hostname string
	FQDN     string
}

// FromEnvironment reads OMD_ROOT/OMD_SITE and resolves the local host names.
// Without OMD_ROOT the current working directory acts as the site root.
func FromEnvironment() Env {
	root := strings.TrimSpace(os.Getenv("OMD_ROOT"))
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		} else {
			root = "."
		}
	}
	host, _ := os.Hostname()
	return Env{
		Root:     root,
		Site:     strings.TrimSpace(os.Getenv("OMD_SITE")),
		Hostname: host,
		FQDN:     lookupFQDN(host),
	}
}

func lookupFQDN(host string) string {
	if host == "" {
		return ""
	}
	if cname, err := net.LookupCNAME(host); err == nil {
		if c := strings.TrimSuffix(cname, "."); c != "" {
			return c
		}
	}
	return host
}

// SiteOrUnknown returns the site name or the UnknownSite hint.
func (e Env) SiteOrUnknown() string {
	if e.Site == "" {
		return UnknownSite
	}
	return e.Site
}

// LogPath is $OMD_ROOT/var/log/<prefix>_<runner>.log.
func (e Env) LogPath(prefix, runner string) string {
	return filepath.Join(e.Root, "var", "log", prefix+"_"+runner+".log")
}

// SpoolPath is $OMD_ROOT/var/tmp/<prefix>_<runner>_queue.db.
func (e Env) SpoolPath(prefix, runner string) string {
	return filepath.Join(e.Root, "var", "tmp", prefix+"_"+runner+"_queue.db")
}

// ConfigDir is $OMD_ROOT/etc/<prefix>.
func (e Env) ConfigDir(prefix string) string {
	return filepath.Join(e.Root, "etc", prefix)
}

// CommandPipe is the naemon external command FIFO of the site.
func (e Env) CommandPipe() string {
	return filepath.Join(e.Root, "tmp", "run", "naemon.cmd")
}

// RunnerName joins a plugin name and an optional tag the way log and spool
// files are named: "webhook" or "webhook_ops".
func RunnerName(name, tag string) string {
	if tag == "" {
		return name
	}
	return name + "_" + tag
}
