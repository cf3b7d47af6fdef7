package spool

import (
	"errors"
	"strings"

	logx "notificationforwarder/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if spooling is switched off.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := normalizeDriver(cfg.Driver)
	if driver == "none" || driver == "off" {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("spool path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case DriverFile:
		return openFile(cfg, log)
	case DriverSQLite:
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown spool driver: " + driver)
	}
}
