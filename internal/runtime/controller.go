package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloudlink/internal/config"
	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
)

var ErrNotRunning = errors.New("cloud link is not running")

type Controller struct {
	rootCtx context.Context
	mu      sync.Mutex
	cancel  context.CancelFunc
	service Service
	running bool
	wg      sync.WaitGroup
}

type StartHooks struct {
	OnStatus func(string)
	OnUpdate func(dashboard.Dashboard)
	OnExit   func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return err
	}
	logger.Debug("runtime start requested",
		logging.Field("device", opts.DeviceID),
		logging.Field("key_store", opts.KeyStore),
		logging.Field("auto_reconnect", !opts.NoReconnect),
	)

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("cloud link is already running")
	}
	c.mu.Unlock()

	service, err := NewServiceWithHooks(c.rootCtx, opts, logger, hooks)
	if err != nil {
		return err
	}
	return c.run(service, logger, hooks.OnExit)
}

func (c *Controller) run(service Service, logger *logging.Logger, onExit func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("cloud link is already running")
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	c.cancel = cancel
	c.service = service
	c.running = true
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			logger.Debug("runtime service exited due to context cancellation", logging.Field("error", runErr))
		} else if runErr != nil {
			logger.Warn("runtime service exited with error", logging.Field("error", runErr))
		} else {
			logger.Info("runtime service exited")
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.service = nil
		c.mu.Unlock()

		if onExit != nil {
			onExit(runErr)
		}
	})
	return nil
}

// Execute forwards a device command to the running service.
func (c *Controller) Execute(ctx context.Context, name string, payload any) (bool, error) {
	c.mu.Lock()
	service := c.service
	c.mu.Unlock()
	if service == nil {
		return false, ErrNotRunning
	}
	return service.Execute(ctx, name, payload)
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Wait(timeout time.Duration) bool {
	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()
	if timeout <= 0 {
		<-waitDone
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
