package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"driftpursuit/aimsolver/internal/wire"
)

var labelCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// createFile opens bundle artefacts; tests swap it to simulate disk failures.
var createFile = os.Create

const (
	// frameInterval batches direction frames so the zstd stream is written at 5 Hz at most.
	frameInterval = 200 * time.Millisecond
	// frameHeaderSize covers tick, capture time and payload length.
	frameHeaderSize = 8 + 8 + 4
	// framePayloadSize covers the direction components and flight time.
	framePayloadSize = 4 * 8

	// ManifestVersion is the bundle layout revision written to manifest.json.
	ManifestVersion = 1
	eventsFile      = "events.jsonl.sz"
	framesFile      = "frames.bin.zst"
	manifestFile    = "manifest.json"
)

// frameBlob stores an accepted direction before it is persisted to disk.
type frameBlob struct {
	Tick       uint64
	CapturedAt time.Time
	Payload    []byte
}

// Writer streams solve records to an audit bundle on disk.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	lastFlush   time.Time
	records     int64
	closed      bool
}

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// Stats summarises the writer for the metrics endpoint.
type Stats struct {
	Records        int64
	BufferedFrames int
}

// eventRecord is one JSON line of the event log.
type eventRecord struct {
	CapturedAt string           `json:"captured_at"`
	Request    wire.AimRequest  `json:"request"`
	Response   wire.AimResponse `json:"response"`
}

// NewWriter prepares a bundle directory under root and opens the compressed sinks.
func NewWriter(root, label string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("audit root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := labelCleaner.ReplaceAllString(label, "")
	if cleaned == "" {
		cleaned = "aim"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	_, statErr := os.Stat(path)
	existed := statErr == nil
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}
	//1.- Failures below remove the half-built bundle unless the directory predates this call.
	fail := func(err error) (*Writer, Manifest, error) {
		if !existed {
			_ = os.RemoveAll(path)
		}
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         ManifestVersion,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(frameInterval / time.Millisecond),
		EventsPath:      eventsFile,
		FramesPath:      framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fail(err)
	}
	if err := os.WriteFile(filepath.Join(path, manifestFile), data, 0o644); err != nil {
		return fail(err)
	}

	//2.- Events go through snappy framing so partially written bundles stay readable.
	eventFile, err := createFile(filepath.Join(path, eventsFile))
	if err != nil {
		return fail(err)
	}
	//3.- Frames are dense binary and compress well under zstd.
	frameFile, err := createFile(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return fail(err)
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return fail(err)
	}

	writer := &Writer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Record appends the solve to the event log and stages a direction frame when it succeeded.
func (w *Writer) Record(req wire.AimRequest, resp wire.AimResponse) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	line, err := json.Marshal(eventRecord{
		CapturedAt: captured.Format(time.RFC3339Nano),
		Request:    req,
		Response:   resp,
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}

	//1.- Persist the event line immediately; the log is the authoritative record.
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := w.eventStream.Flush(); err != nil {
		return err
	}
	w.records++

	//2.- Stage the direction frame and flush the batch once the cadence elapses.
	if !resp.OK || resp.Direction == nil {
		return nil
	}
	w.pending = append(w.pending, frameBlob{Tick: req.Tick, CapturedAt: captured, Payload: encodeFramePayload(resp)})
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= frameInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// Stats reports record and buffer counters.
func (w *Writer) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{Records: w.records, BufferedFrames: len(w.pending)}
}

// Flush forces pending frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close flushes all buffers and releases file handles, returning the first failure.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(w.flushLocked())
	record(w.eventStream.Close())
	record(w.eventFile.Close())
	record(w.frameStream.Close())
	record(w.frameFile.Close())
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	for _, frame := range w.pending {
		header := make([]byte, frameHeaderSize)
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}

func encodeFramePayload(resp wire.AimResponse) []byte {
	payload := make([]byte, framePayloadSize)
	binary.LittleEndian.PutUint64(payload[0:8], math.Float64bits(resp.Direction.X))
	binary.LittleEndian.PutUint64(payload[8:16], math.Float64bits(resp.Direction.Y))
	binary.LittleEndian.PutUint64(payload[16:24], math.Float64bits(resp.Direction.Z))
	binary.LittleEndian.PutUint64(payload[24:32], math.Float64bits(resp.FlightTime))
	return payload
}
