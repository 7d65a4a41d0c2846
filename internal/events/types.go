package events

import (
	"courier/internal/task"
)

// Channel names a backend event channel.
type Channel string

const (
	ChannelTaskStart       Channel = "download-task-start"
	ChannelTaskAdd         Channel = "download-task-add"
	ChannelProgress        Channel = "download-progress"
	ChannelComplete        Channel = "download-complete"
	ChannelFailed          Channel = "download-failed"
	ChannelCanceled        Channel = "download-canceled"
	ChannelCancelRequested Channel = "download-cancel-requested"
	ChannelResumed         Channel = "download-resumed"
	ChannelDownloadQueue   Channel = "download-queue-update"
	ChannelExtractStart    Channel = "extract-start"
	ChannelExtractComplete Channel = "extract-complete"
	ChannelExtractQueue    Channel = "extract-queue-update"
)

// Channels lists every channel the gateway understands.
var Channels = []Channel{
	ChannelTaskStart,
	ChannelTaskAdd,
	ChannelProgress,
	ChannelComplete,
	ChannelFailed,
	ChannelCanceled,
	ChannelCancelRequested,
	ChannelResumed,
	ChannelDownloadQueue,
	ChannelExtractStart,
	ChannelExtractComplete,
	ChannelExtractQueue,
}

// TaskChannels are the channels carrying per-task lifecycle events.
var TaskChannels = []Channel{
	ChannelTaskStart,
	ChannelTaskAdd,
	ChannelProgress,
	ChannelComplete,
	ChannelFailed,
	ChannelCanceled,
	ChannelCancelRequested,
	ChannelResumed,
	ChannelExtractStart,
	ChannelExtractComplete,
}

func known(ch Channel) bool {
	for _, candidate := range Channels {
		if candidate == ch {
			return true
		}
	}
	return false
}

// Event is a decoded payload. Task lifecycle events also implement TaskEvent.
type Event interface {
	Channel() Channel
}

// TaskEvent is an event about a single task.
type TaskEvent interface {
	Event
	TaskID() string
}

type TaskAdded struct {
	ID       string
	Filename string
	URL      string
}

type TaskStarted struct {
	ID       string
	Filename string
	URL      string
}

type Progress struct {
	ID        string
	Filename  string
	Percent   float64
	RawOutput string
	// Transfer is nil when the payload carried no size or speed detail.
	Transfer *task.Transfer
}

type DownloadComplete struct {
	ID       string
	Filename string
	Success  bool
	Message  string
	SaveOnly bool
}

type DownloadFailed struct {
	ID       string
	Filename string
	Error    string
}

type DownloadCanceled struct {
	ID       string
	Filename string
}

// CancelRequested is the backend acknowledging a cancel before the task stops.
type CancelRequested struct {
	ID string
}

// DownloadResumed is a heartbeat for a download picked up again.
type DownloadResumed struct {
	ID       string
	Filename string
	Message  string
}

type ExtractStart struct {
	ID         string
	Filename   string
	ExtractDir string
}

type ExtractComplete struct {
	ID       string
	Filename string
	Success  bool
	Message  string
}

// QueueUpdate carries an authoritative queue snapshot for one pipeline.
type QueueUpdate struct {
	Snapshot task.QueueSnapshot
}

func (TaskAdded) Channel() Channel        { return ChannelTaskAdd }
func (TaskStarted) Channel() Channel      { return ChannelTaskStart }
func (Progress) Channel() Channel         { return ChannelProgress }
func (DownloadComplete) Channel() Channel { return ChannelComplete }
func (DownloadFailed) Channel() Channel   { return ChannelFailed }
func (DownloadCanceled) Channel() Channel { return ChannelCanceled }
func (CancelRequested) Channel() Channel  { return ChannelCancelRequested }
func (DownloadResumed) Channel() Channel  { return ChannelResumed }
func (ExtractStart) Channel() Channel     { return ChannelExtractStart }
func (ExtractComplete) Channel() Channel  { return ChannelExtractComplete }

func (q QueueUpdate) Channel() Channel {
	if q.Snapshot.Pipeline == task.KindExtract {
		return ChannelExtractQueue
	}
	return ChannelDownloadQueue
}

func (e TaskAdded) TaskID() string        { return e.ID }
func (e TaskStarted) TaskID() string      { return e.ID }
func (e Progress) TaskID() string         { return e.ID }
func (e DownloadComplete) TaskID() string { return e.ID }
func (e DownloadFailed) TaskID() string   { return e.ID }
func (e DownloadCanceled) TaskID() string { return e.ID }
func (e CancelRequested) TaskID() string  { return e.ID }
func (e DownloadResumed) TaskID() string  { return e.ID }
func (e ExtractStart) TaskID() string     { return e.ID }
func (e ExtractComplete) TaskID() string  { return e.ID }
