package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"

	"github.com/example/lab-booking/internal/application"
	"github.com/example/lab-booking/internal/config"
	httptransport "github.com/example/lab-booking/internal/http"
	"github.com/example/lab-booking/internal/identity"
	"github.com/example/lab-booking/internal/jobs"
	"github.com/example/lab-booking/internal/persistence/sqlite"
	"github.com/example/lab-booking/internal/schedule"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	bookingRepo := sqlite.NewBookingRepository(storage)
	resourceRepo := sqlite.NewResourceRepository(storage)
	approvalRepo := sqlite.NewApprovalRepository(storage)
	waitlistRepo := sqlite.NewWaitlistRepository(storage)
	intentLog := sqlite.NewIntentLog(storage)

	registry := schedule.NewRegistry()
	if err := warmUpRegistry(ctx, registry, bookingRepo, resourceRepo); err != nil {
		logger.Error("failed to warm up schedule registry", "error", err)
		os.Exit(1)
	}

	idGenerator := func() string { return uuid.NewString() }
	directory := identity.NewDirectory(cfg.Approvers)

	approvalService := application.NewApprovalService(
		approvalRepo, approvalRepo, directory, intentLog,
		idGenerator, nil, cfg.ApprovalDeadline, logger,
	)
	bookingService := application.NewBookingService(
		bookingRepo, resourceRepo, approvalService, registry, nil, intentLog,
		idGenerator, nil, cfg.CheckInGrace, logger,
	)
	waitlistService := application.NewWaitlistService(
		waitlistRepo, bookingService, intentLog,
		idGenerator, nil, cfg.OfferWindow, logger,
	)
	bookingService.SetCapacityListener(waitlistService)
	resourceService := application.NewResourceService(
		resourceRepo, approvalRepo, registry, idGenerator, nil, logger,
	)

	resolver := identity.NewTokenResolver(cfg.TokenSecret)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Bookings:  httptransport.NewBookingHandler(bookingService, logger),
		Waitlist:  httptransport.NewWaitlistHandler(waitlistService, logger),
		Resources: httptransport.NewResourceHandler(resourceService, bookingService, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequireToken(resolver, logger),
		},
	})

	sweeper := jobs.NewSweeper(bookingService, waitlistService, cfg.SweepInterval, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{logger: logger}))(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// warmUpRegistry rebuilds the in-memory occupancy index from persisted
// state: still-occupying bookings that have not ended, plus every
// maintenance window. Conflict checks are only as good as this seed.
func warmUpRegistry(
	ctx context.Context,
	registry *schedule.Registry,
	bookings *sqlite.BookingRepository,
	resources *sqlite.ResourceRepository,
) error {
	now := time.Now().UTC()
	active, err := bookings.ListBookings(ctx, application.BookingFilter{
		Statuses: []application.BookingStatus{
			application.StatusAwaitingApproval,
			application.StatusConfirmed,
			application.StatusCheckedIn,
		},
		EndsAfter: &now,
	})
	if err != nil {
		return fmt.Errorf("load active bookings: %w", err)
	}
	for _, booking := range active {
		registry.Seed(booking.ResourceID, booking.ID, schedule.KindBooking, booking.Interval())
	}

	catalog, err := resources.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("load resources: %w", err)
	}
	for _, resource := range catalog {
		windows, err := resources.ListMaintenanceWindows(ctx, resource.ID)
		if err != nil {
			return fmt.Errorf("load maintenance windows for %s: %w", resource.ID, err)
		}
		for _, window := range windows {
			registry.Seed(window.ResourceID, window.ID, schedule.KindMaintenance, window.Interval())
		}
	}
	return nil
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (r *recoveryLogger) Println(v ...interface{}) {
	r.logger.Error("panic recovered in handler", "detail", fmt.Sprint(v...))
}
