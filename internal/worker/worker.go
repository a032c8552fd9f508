package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/vocalis/internal/types"
	"github.com/andresmejia3/vocalis/internal/utils" // Using the SafeCommand wrapper
)

// DefaultCommand launches the bundled face descriptor worker.
var DefaultCommand = []string{"python3", "-u", "python/face_worker.py"}

// Limits that guard against garbage lengths in a corrupted response.
const (
	maxFaces         = 1024
	maxDescriptorDim = 4096
)

// Config describes how to launch a face worker process.
type Config struct {
	Command []string // executable and arguments, DefaultCommand when empty
	Debug   bool
}

// FaceWorker talks to an external face descriptor process over a side-channel pipe.
type FaceWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewFaceWorker starts the worker process. It is killed when ctx is cancelled.
func NewFaceWorker(ctx context.Context, id int, cfg Config) (*FaceWorker, error) {
	command := cfg.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	args := append([]string{}, command[1:]...)
	if cfg.Debug {
		args = append(args, "--debug")
	}
	py := utils.NewSafeCommandContext(ctx, command[0], args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &FaceWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *FaceWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessImage sends an encoded image and decodes the faces found in it.
//
// Response payload:
//
//	[Status:1] 0 = ok, 1 = error
//	ok:    [NumFaces:4] then per face [Box:4x int32] [Dim:4] [Vec:Dim x float32]
//	error: [MsgLen:4] [Msg]
func (w *FaceWorker) ProcessImage(image []byte) ([]types.FaceResult, error) {
	resp, err := w.Communicate(image)
	if err != nil {
		return nil, err
	}
	return decodeFaces(resp)
}

// Features implements presence.FeatureExtractor.
func (w *FaceWorker) Features(image []byte) ([][]float64, error) {
	faces, err := w.ProcessImage(image)
	if err != nil {
		return nil, err
	}
	vecs := make([][]float64, len(faces))
	for i, f := range faces {
		vecs[i] = f.Vec
	}
	return vecs, nil
}

// Close shuts down the worker and waits for the process to exit.
func (w *FaceWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

func decodeFaces(resp []byte) ([]types.FaceResult, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response")
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}
	if numFaces > maxFaces {
		return nil, fmt.Errorf("face count %d exceeds %d", numFaces, maxFaces)
	}

	faces := make([]types.FaceResult, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: malformed box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d: malformed descriptor length: %w", i, err)
		}
		if dim > maxDescriptorDim {
			return nil, fmt.Errorf("face %d: descriptor length %d exceeds %d", i, dim, maxDescriptorDim)
		}
		raw := make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d: malformed descriptor: %w", i, err)
		}

		vec := make([]float64, dim)
		for j, v := range raw {
			vec[j] = float64(v)
		}
		faces = append(faces, types.FaceResult{
			Loc: []int{int(box[0]), int(box[1]), int(box[2]), int(box[3])},
			Vec: vec,
		})
	}
	return faces, nil
}
