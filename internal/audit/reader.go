package audit

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"driftpursuit/aimsolver/internal/physics"
	"driftpursuit/aimsolver/internal/wire"
)

// Event is a single solve decoded from the event log.
type Event struct {
	CapturedAt time.Time        `json:"captured_at"`
	Request    wire.AimRequest  `json:"request"`
	Response   wire.AimResponse `json:"response"`
}

// Frame is a single accepted direction decoded from the frame stream.
type Frame struct {
	Tick       uint64       `json:"tick"`
	CapturedAt time.Time    `json:"captured_at"`
	Direction  physics.Vec3 `json:"direction"`
	FlightTime float64      `json:"flight_time"`
}

// LoadBundle reads the manifest, events and frames of a bundle directory or manifest path.
func LoadBundle(path string) (Manifest, []Event, []Frame, error) {
	if path == "" {
		return Manifest{}, nil, nil, fmt.Errorf("path is required")
	}

	//1.- Locate the manifest so artefact paths resolve relative to it.
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return Manifest{}, nil, nil, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestFile)
	}
	manifestDir := filepath.Dir(manifestPath)

	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return Manifest{}, nil, nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return Manifest{}, nil, nil, err
	}
	if manifest.Version != ManifestVersion {
		return Manifest{}, nil, nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	//2.- Decode events then frames; both are optional in the sense that they may be empty.
	events, err := loadEvents(filepath.Join(manifestDir, manifest.EventsPath))
	if err != nil {
		return Manifest{}, nil, nil, err
	}
	frames, err := loadFrames(filepath.Join(manifestDir, manifest.FramesPath))
	if err != nil {
		return Manifest{}, nil, nil, err
	}
	return manifest, events, frames, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{CapturedAt: captured, Request: raw.Request, Response: raw.Response})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	offset := 0
	for offset+frameHeaderSize <= len(payload) {
		//1.- Read the fixed header then decode the direction payload.
		tick := binary.LittleEndian.Uint64(payload[offset : offset+8])
		captured := int64(binary.LittleEndian.Uint64(payload[offset+8 : offset+16]))
		size := int(binary.LittleEndian.Uint32(payload[offset+16 : offset+20]))
		offset += frameHeaderSize
		if size < framePayloadSize || offset+size > len(payload) {
			return nil, fmt.Errorf("frame payload truncated")
		}
		blob := payload[offset : offset+size]
		offset += size
		frames = append(frames, Frame{
			Tick:       tick,
			CapturedAt: time.Unix(0, captured).UTC(),
			Direction: physics.Vec3{
				X: math.Float64frombits(binary.LittleEndian.Uint64(blob[0:8])),
				Y: math.Float64frombits(binary.LittleEndian.Uint64(blob[8:16])),
				Z: math.Float64frombits(binary.LittleEndian.Uint64(blob[16:24])),
			},
			FlightTime: math.Float64frombits(binary.LittleEndian.Uint64(blob[24:32])),
		})
	}
	return frames, nil
}
