package gvm

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoHandle: the bridge succeeded but the response carried no identifier.
var ErrNoHandle = errors.New("no identifier in engine response")

// RejectedError is a well-formed GMP response with a non-2xx status.
type RejectedError struct {
	Command    string
	Status     string
	StatusText string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gvm %s rejected: %s %s", e.Command, e.Status, e.StatusText)
}

type idRef struct {
	ID string `xml:"id,attr"`
}

type createTargetRequest struct {
	XMLName  xml.Name `xml:"create_target"`
	Name     string   `xml:"name"`
	Hosts    string   `xml:"hosts"`
	PortList idRef    `xml:"port_list"`
	Comment  string   `xml:"comment,omitempty"`
}

type createTaskRequest struct {
	XMLName xml.Name `xml:"create_task"`
	Name    string   `xml:"name"`
	Config  idRef    `xml:"config"`
	Target  idRef    `xml:"target"`
	Scanner idRef    `xml:"scanner"`
}

type taskRequest struct {
	XMLName xml.Name
	TaskID  string `xml:"task_id,attr"`
}

type getReportsRequest struct {
	XMLName          xml.Name `xml:"get_reports"`
	ReportID         string   `xml:"report_id,attr"`
	Details          string   `xml:"details,attr"`
	IgnorePagination string   `xml:"ignore_pagination,attr"`
	Filter           string   `xml:"filter,attr"`
}

func encode(v any) (string, error) {
	b, err := xml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// create sends a request that changes manager state and requires an
// identifier back. It is never retried: a bridge failure does not tell
// whether the manager already acted on it.
func (c *Client) create(ctx context.Context, req any) (string, error) {
	payload, err := encode(req)
	if err != nil {
		return "", err
	}
	raw, err := c.invokeOnce(ctx, payload)
	if err != nil {
		return "", err
	}
	h, ok := ExtractHandle(raw)
	if h.Status != "" && !h.OK() {
		return "", &RejectedError{Command: commandName(payload), Status: h.Status, StatusText: h.StatusText}
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", commandName(payload), ErrNoHandle)
	}
	return h.ID, nil
}

type versionResponse struct {
	XMLName xml.Name `xml:"get_version_response"`
	Status  string   `xml:"status,attr"`
	Version string   `xml:"version"`
}

// Version doubles as the connectivity check.
func (c *Client) Version(ctx context.Context) (string, error) {
	raw, err := c.Invoke(ctx, "<get_version/>")
	if err != nil {
		return "", err
	}
	var resp versionResponse
	if err := xml.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("parse get_version response: %w", err)
	}
	if h := statusOf(raw); h.Status != "" && !h.OK() {
		return "", &RejectedError{Command: "get_version", Status: h.Status, StatusText: h.StatusText}
	}
	return strings.TrimSpace(resp.Version), nil
}

func (c *Client) CreateTarget(ctx context.Context, name, hosts, portListID string) (string, error) {
	return c.create(ctx, createTargetRequest{
		Name:     name,
		Hosts:    hosts,
		PortList: idRef{ID: portListID},
	})
}

func (c *Client) CreateTask(ctx context.Context, name, targetID string) (string, error) {
	return c.create(ctx, createTaskRequest{
		Name:    name,
		Config:  idRef{ID: c.scanConfigID},
		Target:  idRef{ID: targetID},
		Scanner: idRef{ID: c.scannerID},
	})
}

// StartTask returns the id of the report the run will write into.
func (c *Client) StartTask(ctx context.Context, taskID string) (string, error) {
	return c.create(ctx, taskRequest{XMLName: xml.Name{Local: "start_task"}, TaskID: taskID})
}

func (c *Client) StopTask(ctx context.Context, taskID string) error {
	payload, err := encode(taskRequest{XMLName: xml.Name{Local: "stop_task"}, TaskID: taskID})
	if err != nil {
		return err
	}
	raw, err := c.Invoke(ctx, payload)
	if err != nil {
		return err
	}
	if h := statusOf(raw); h.Status != "" && !h.OK() {
		return &RejectedError{Command: "stop_task", Status: h.Status, StatusText: h.StatusText}
	}
	return nil
}

const (
	TaskDone          = "Done"
	TaskStopped       = "Stopped"
	TaskStopRequested = "Stop Requested"
	TaskInterrupted   = "Interrupted"
)

type TaskState struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	ReportID string `json:"reportId,omitempty"`
}

func (s TaskState) Done() bool {
	return s.Status == TaskDone
}

// Failed covers every way a task ends without finishing its run.
func (s TaskState) Failed() bool {
	switch s.Status {
	case TaskStopped, TaskStopRequested, TaskInterrupted:
		return true
	}
	return false
}

type getTasksResponse struct {
	XMLName    xml.Name `xml:"get_tasks_response"`
	Status     string   `xml:"status,attr"`
	StatusText string   `xml:"status_text,attr"`
	Tasks      []struct {
		ID            string `xml:"id,attr"`
		Status        string `xml:"status"`
		Progress      string `xml:"progress"`
		CurrentReport idRef  `xml:"current_report>report"`
		LastReport    idRef  `xml:"last_report>report"`
	} `xml:"task"`
}

func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskState, error) {
	payload, err := encode(taskRequest{XMLName: xml.Name{Local: "get_tasks"}, TaskID: taskID})
	if err != nil {
		return TaskState{}, err
	}
	raw, err := c.Invoke(ctx, payload)
	if err != nil {
		return TaskState{}, err
	}
	return ParseTaskStatus(raw, taskID)
}

// ParseTaskStatus reads the state of taskID out of a get_tasks response.
func ParseTaskStatus(raw, taskID string) (TaskState, error) {
	var resp getTasksResponse
	if err := xml.Unmarshal([]byte(raw), &resp); err != nil {
		return TaskState{}, fmt.Errorf("parse get_tasks response: %w", err)
	}
	if resp.Status != "" && !(Handle{Status: resp.Status}).OK() {
		return TaskState{}, &RejectedError{Command: "get_tasks", Status: resp.Status, StatusText: resp.StatusText}
	}

	for _, t := range resp.Tasks {
		if t.ID != taskID {
			continue
		}
		st := TaskState{Status: strings.TrimSpace(t.Status)}

		p, err := strconv.Atoi(strings.TrimSpace(t.Progress))
		if err != nil || p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if st.Done() {
			p = 100
		}
		st.Progress = p

		st.ReportID = t.CurrentReport.ID
		if st.ReportID == "" {
			st.ReportID = t.LastReport.ID
		}
		return st, nil
	}
	return TaskState{}, fmt.Errorf("task %s: %w", taskID, ErrNoHandle)
}
