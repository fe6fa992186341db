package persistent

import (
	"OFSniff/internal/config"
	"OFSniff/internal/model"
	"OFSniff/internal/pkg/logging"
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var log = logging.For("persistent")

// Frame is one captured control-channel frame queued for recording.
type Frame struct {
	CaptureInfo gopacket.CaptureInfo
	Data        []byte
	FiveTuple   model.FiveTuple
}

// Worker records the frames of one capture session to disk.
type Worker struct {
	frames  chan *Frame
	wg      sync.WaitGroup
	file    *os.File
	dropped atomic.Uint64
	once    sync.Once
}

// NewWorker creates the session file and starts the writer goroutine.
func NewWorker(cfg config.PersistenceConfig, linkType layers.LinkType, snapLen uint32) (*Worker, error) {
	switch cfg.Encoding {
	case "pcap", "text", "":
	default:
		return nil, fmt.Errorf("unknown persistence encoding %q", cfg.Encoding)
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persistence directory: %w", err)
	}

	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 10000
	}

	file, err := createOutputFile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w := &Worker{
		frames: make(chan *Frame, bufferSize),
		file:   file,
	}

	run := w.runTextWorker
	if cfg.Encoding != "text" {
		if snapLen == 0 {
			snapLen = 65535
		}
		pcapWriter := pcapgo.NewWriter(file)
		if err := pcapWriter.WriteFileHeader(snapLen, linkType); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap file header: %w", err)
		}
		run = w.runPcapWorker(pcapWriter)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		run()
	}()

	log.Infof("Recording capture session to %s (%s)", file.Name(), cfg.Encoding)
	return w, nil
}

func createOutputFile(cfg config.PersistenceConfig) (*os.File, error) {
	ext := ".log"
	if cfg.Encoding != "text" {
		ext = ".pcap"
	}
	fileName := fmt.Sprintf("%s%s", time.Now().Format("2006-01-02_15-04-05.000"), ext)
	filePath := filepath.Join(cfg.Path, fileName)
	return os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func (w *Worker) runTextWorker() {
	writer := bufio.NewWriter(w.file)
	for frame := range w.frames {
		ft := frame.FiveTuple
		line := fmt.Sprintf("%s - %s:%d -> %s:%d, Len: %d\n",
			frame.CaptureInfo.Timestamp.Format("2006-01-02 15:04:05.000000"),
			ft.SrcIP, ft.SrcPort, ft.DstIP, ft.DstPort,
			frame.CaptureInfo.Length,
		)
		if _, err := writer.WriteString(line); err != nil {
			log.Errorf("Error writing frame: %v", err)
		}
	}
	if err := writer.Flush(); err != nil {
		log.Errorf("Error flushing text log: %v", err)
	}
}

func (w *Worker) runPcapWorker(pcapWriter *pcapgo.Writer) func() {
	return func() {
		for frame := range w.frames {
			if err := pcapWriter.WritePacket(frame.CaptureInfo, frame.Data); err != nil {
				log.Errorf("Error writing frame: %v", err)
			}
		}
	}
}

// Enqueue copies data and queues it. Frames are dropped when the queue is full.
func (w *Worker) Enqueue(ci gopacket.CaptureInfo, data []byte, ft model.FiveTuple) {
	buf := make([]byte, len(data))
	copy(buf, data)
	ci.CaptureLength = len(buf)
	ft.SrcIP = append(net.IP(nil), ft.SrcIP...)
	ft.DstIP = append(net.IP(nil), ft.DstIP...)
	select {
	case w.frames <- &Frame{CaptureInfo: ci, Data: buf, FiveTuple: ft}:
	default:
		if w.dropped.Add(1)%1000 == 1 {
			log.Warnf("Recorder queue full, %d frames dropped so far", w.dropped.Load())
		}
	}
}

// Dropped returns how many frames were discarded.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Path returns the session file.
func (w *Worker) Path() string {
	return w.file.Name()
}

// Stop drains the queue and closes the file. It must not race with Enqueue.
func (w *Worker) Stop() {
	w.once.Do(func() {
		close(w.frames)
		w.wg.Wait()
		if err := w.file.Close(); err != nil {
			log.Errorf("Error closing %s: %v", w.file.Name(), err)
		}
		log.Infof("Recorder stopped, file %s closed", w.file.Name())
	})
}
