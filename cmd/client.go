// This file is part of edna
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bizflycloud/edna/pkg/backupapi"
	"github.com/bizflycloud/edna/pkg/models"
)

var reportHeaders = []string{"Device", "Status", "Error", "Elapsed", "Size", "Backup"}

// newClient returns an API client for --server. A unix:// server is
// reached through its socket.
func newClient(ctx context.Context) (*backupapi.Client, error) {
	opts := []backupapi.ClientOption{backupapi.WithToken(token), backupapi.WithLogger(logger)}
	if strings.HasPrefix(serverURL, "unix://") {
		sock := strings.TrimPrefix(serverURL, "unix://")
		opts = append(opts,
			backupapi.WithServerURL("http://unix"),
			backupapi.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", sock)
					},
				},
			}),
		)
	} else {
		opts = append(opts, backupapi.WithServerURL(serverURL))
	}
	c, err := backupapi.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	if token == "" && username != "" {
		if _, err := c.Login(ctx, username, password); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}
	return c, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func reportRows(r *models.RunReport) [][]string {
	rows := make([][]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		errText := "-"
		if o.ErrorKind != "" {
			errText = string(o.ErrorKind)
		}
		id := "-"
		if len(o.Backups) > 0 {
			id = o.Backups[0].ID
		}
		rows = append(rows, []string{
			o.Device,
			string(o.Status),
			errText,
			o.Elapsed.Round(time.Millisecond).String(),
			humanize.IBytes(uint64(o.Bytes)),
			id,
		})
	}
	return rows
}

func reportSummary(r *models.RunReport) string {
	s := fmt.Sprintf("Run %s (%s): %s, %d attempted, %d succeeded, %d failed",
		r.ID, r.Trigger, r.Status, r.Attempted, r.Succeeded, r.Failed)
	if r.ErrorDetail != "" {
		s += "\nError: " + string(r.ErrorKind) + ": " + r.ErrorDetail
	}
	return s
}

// reportErr is the command result of a finished run.
func reportErr(r *models.RunReport) error {
	if r.Status == models.StatusFailed || r.Failed > 0 {
		return fmt.Errorf("%w: %d of %d devices failed", errRunFailed, r.Failed, r.Attempted)
	}
	return nil
}

func isAlreadyRunning(err error) bool {
	return errors.Is(err, models.ErrAlreadyRunning)
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}
