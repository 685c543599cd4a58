package app

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/Paulofn1/green-connect-hub/config"
	"github.com/Paulofn1/green-connect-hub/internal/whatsapp"
)

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// SessionProvider provides the session sync service
type SessionProvider interface {
	Session() *whatsapp.Service
}

// AppContext combines all provider interfaces for full application context
type AppContext interface {
	ConfigProvider
	SchedulerProvider
	SessionProvider

	// Resync refreshes every account from the backend immediately
	Resync(ctx context.Context) error
}
