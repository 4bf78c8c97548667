package proxyctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kfsoftware/asd/internal/asderrors"
	"github.com/kfsoftware/asd/internal/readiness"
	"github.com/kfsoftware/asd/internal/supervisor"
)

// Mode selects how the controller applies routes.
type Mode string

const (
	ModeAPI    Mode = "api"
	ModeStatic Mode = "static"
)

// Controller owns the local reverse proxy daemon, preferring the admin
// API and falling back to a rendered static config plus restart when the
// admin API is unreachable or disabled (spec §4.6).
type Controller struct {
	AdminBaseURL string
	DaemonSpec   supervisor.DaemonSpec
	StaticConfig StaticRenderer
	HTTPClient   *http.Client
}

// StaticRenderer writes a fully-rendered proxy config file for a route
// set, for use when the admin API is unreachable.
type StaticRenderer interface {
	Render(routes []Route) error
}

func New(adminBaseURL string, spec supervisor.DaemonSpec, renderer StaticRenderer) *Controller {
	return &Controller{
		AdminBaseURL: adminBaseURL,
		DaemonSpec:   spec,
		StaticConfig: renderer,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Start ensures the daemon is alive and its admin port reachable.
func (c *Controller) Start(ctx context.Context) error {
	_, err := supervisor.Start(ctx, c.DaemonSpec)
	if err != nil {
		return err
	}
	return readiness.Wait(ctx, readiness.DefaultBudget(), readiness.Spec{HTTP: &readiness.HTTPCheck{URL: c.AdminBaseURL + "/config/"}})
}

// Stop terminates the proxy daemon and removes its PID file; the admin
// socket is owned by the daemon and goes away with it.
func (c *Controller) Stop() error {
	return supervisor.Stop(c.DaemonSpec.PIDFile, true, 3*time.Second)
}

// Apply performs an idempotent route diff: API mode when the admin API
// answers, static mode (render + restart) otherwise.
func (c *Controller) Apply(ctx context.Context, desired []Route) error {
	live, err := c.fetchLiveRoutes(ctx)
	if err != nil {
		return c.applyStatic(desired)
	}
	return c.applyAPI(ctx, desired, live)
}

func (c *Controller) fetchLiveRoutes(ctx context.Context) ([]Route, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AdminBaseURL+"/config/apps/http/servers/asd/routes", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, asderrors.Wrapf(asderrors.KindTransient, "", err, "fetch live proxy routes")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, asderrors.New(asderrors.KindProtocol, "", fmt.Errorf("proxy admin API returned %d", resp.StatusCode))
	}
	var live []Route
	if err := json.NewDecoder(resp.Body).Decode(&live); err != nil {
		return nil, asderrors.Wrapf(asderrors.KindProtocol, "", err, "decode live proxy routes")
	}
	return live, nil
}

// applyAPI renders the desired route set and PATCHes only changed
// routes, as one atomic admin-API diff batch (spec §5, "Ordering
// guarantees").
func (c *Controller) applyAPI(ctx context.Context, desired, live []Route) error {
	upsert, remove := Diff(desired, live)
	if len(upsert) == 0 && len(remove) == 0 {
		return nil
	}

	batch := struct {
		Upsert []Route `json:"upsert"`
		Remove []Route `json:"remove"`
	}{Upsert: upsert, Remove: remove}

	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.AdminBaseURL+"/config/apps/http/servers/asd/routes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return asderrors.Wrapf(asderrors.KindTransient, "", err, "patch proxy routes")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return asderrors.New(asderrors.KindProtocol, "", fmt.Errorf("proxy admin API PATCH returned %d", resp.StatusCode))
	}
	return nil
}

// applyStatic renders a full config file and restarts the proxy daemon
// through the supervisor.
func (c *Controller) applyStatic(desired []Route) error {
	if c.StaticConfig == nil {
		return asderrors.New(asderrors.KindMisconfig, "", fmt.Errorf("proxy admin API unreachable and no static renderer configured"))
	}
	if err := c.StaticConfig.Render(desired); err != nil {
		return asderrors.Wrapf(asderrors.KindMisconfig, "", err, "render static proxy config")
	}
	if err := c.Stop(); err != nil {
		return err
	}
	_, err := supervisor.Start(context.Background(), c.DaemonSpec)
	return err
}
