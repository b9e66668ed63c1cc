package backupapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/auth"
	"github.com/bizflycloud/edna/pkg/catalog"
	"github.com/bizflycloud/edna/pkg/models"
	"github.com/bizflycloud/edna/pkg/server"
)

const (
	loginPath     = "/api/auth/login"
	mePath        = "/api/auth/me"
	statusPath    = "/api/status"
	devicesPath   = "/api/devices"
	runPath       = "/api/backup/run"
	runsPath      = "/api/backup/runs"
	lastRunPath   = "/api/backup/last"
	schedulerPath = "/api/scheduler"
)

// User is the authenticated user.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RunAccepted is the answer of an asynchronous run request.
type RunAccepted struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

type content struct {
	Content string `json:"content"`
}

func (c *Client) call(ctx context.Context, method, relPath string, body, out interface{}) error {
	req, err := c.NewRequest(method, relPath, body)
	if err != nil {
		return err
	}
	resp, err := c.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		c.logger.Debug("API call failed", zap.String("method", method), zap.String("path", relPath), zap.Error(err))
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func devicePath(device string, elem ...string) string {
	p := devicesPath + "/" + url.PathEscape(device)
	for _, e := range elem {
		p += "/" + url.PathEscape(e)
	}
	return p
}

// Login exchanges credentials for a token and uses it for the next calls.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.Token, error) {
	var tok auth.Token
	body := map[string]string{"username": username, "password": password}
	if err := c.call(ctx, http.MethodPost, loginPath, body, &tok); err != nil {
		return nil, err
	}
	c.token = tok.AccessToken
	return &tok, nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, http.MethodGet, mePath, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Status(ctx context.Context) (*server.StatusResponse, error) {
	var st server.StatusResponse
	if err := c.call(ctx, http.MethodGet, statusPath, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ListDevices(ctx context.Context) ([]catalog.Device, error) {
	var devices []catalog.Device
	if err := c.call(ctx, http.MethodGet, devicesPath, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// ListBackups returns the backup history of device, newest first.
func (c *Client) ListBackups(ctx context.Context, device string) ([]catalog.Entry, error) {
	var entries []catalog.Entry
	if err := c.call(ctx, http.MethodGet, devicePath(device, "backups"), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetBackup returns the content of one backup.
func (c *Client) GetBackup(ctx context.Context, device, id string) (string, error) {
	var ct content
	if err := c.call(ctx, http.MethodGet, devicePath(device, "backups", id), nil, &ct); err != nil {
		return "", err
	}
	return ct.Content, nil
}

// LastBackup returns the content of the newest backup of device.
func (c *Client) LastBackup(ctx context.Context, device string) (string, error) {
	var ct content
	if err := c.call(ctx, http.MethodGet, devicePath(device, "last_backup"), nil, &ct); err != nil {
		return "", err
	}
	return ct.Content, nil
}

func runBody(device string) interface{} {
	if device == "" {
		return nil
	}
	return map[string]string{"device_name": device}
}

// RunBackup runs a backup and waits for its report. An empty device
// runs the whole inventory.
func (c *Client) RunBackup(ctx context.Context, device string) (*models.RunReport, error) {
	var r models.RunReport
	if err := c.call(ctx, http.MethodPost, runPath, runBody(device), &r); err != nil {
		return nil, fmt.Errorf("run backup: %w", err)
	}
	return &r, nil
}

// StartBackup starts a backup in the background.
func (c *Client) StartBackup(ctx context.Context, device string) (*RunAccepted, error) {
	var a RunAccepted
	if err := c.call(ctx, http.MethodPost, runPath+"?async=true", runBody(device), &a); err != nil {
		return nil, fmt.Errorf("start backup: %w", err)
	}
	return &a, nil
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error) {
	var runs []*models.RunReport
	if err := c.call(ctx, http.MethodGet, runsPath+"?limit="+strconv.Itoa(limit), nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) LastRun(ctx context.Context) (*models.RunReport, error) {
	var r models.RunReport
	if err := c.call(ctx, http.MethodGet, lastRunPath, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) scheduler(ctx context.Context, method, action string) (*server.SchedulerStatus, error) {
	var st server.SchedulerStatus
	if err := c.call(ctx, method, schedulerPath+"/"+action, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) SchedulerStatus(ctx context.Context) (*server.SchedulerStatus, error) {
	return c.scheduler(ctx, http.MethodGet, "status")
}

func (c *Client) StartScheduler(ctx context.Context) (*server.SchedulerStatus, error) {
	return c.scheduler(ctx, http.MethodPost, "start")
}

func (c *Client) StopScheduler(ctx context.Context) (*server.SchedulerStatus, error) {
	return c.scheduler(ctx, http.MethodPost, "stop")
}
