package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/jpgstack/batch"
	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/convert"
	"github.com/janelia-flyem/jpgstack/server"
	"github.com/janelia-flyem/jpgstack/sidecar"
	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/storage"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// command is the name and arguments left after flag parsing.
type command []string

func (cmd command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return strings.ToLower(cmd[0])
}

// Argument returns the i-th argument with the command name at index 0, or an
// empty string if there is none.
func (cmd command) Argument(i int) string {
	if i >= len(cmd) {
		return ""
	}
	return cmd[i]
}

// DoCommand serves as a switchboard for commands and returns the exit code.
func DoCommand(ctx context.Context, con *console, s *settings, args []string) int {
	cmd := command(args)
	var err error
	switch cmd.Name() {
	case "":
		err = fmt.Errorf("blank command")
	case "about":
		con.Printf("jpgstack %s\n", tomo.Version)
		con.Printf("codecs: %s\n", strings.Join(slicecodec.Names(), ", "))
	case "pack":
		return DoConvert(ctx, con, s, convert.Pack, cmd[1:])
	case "unpack":
		return DoConvert(ctx, con, s, convert.Unpack, cmd[1:])
	case "info":
		err = DoInfo(ctx, con, s, cmd)
	case "extract":
		err = DoExtract(ctx, con, s, cmd)
	case "serve":
		err = DoServe(ctx, s, cmd)
	case "token":
		err = DoToken(con, s, cmd)
	default:
		err = fmt.Errorf("unknown command %q, try 'jpgstack help'", cmd.Name())
	}
	if err != nil {
		con.Error("%v", err)
		return exitError
	}
	return exitOK
}

func openStore(ctx context.Context, s *settings) (storage.Store, error) {
	return storage.Open(ctx, s.config.Storage.Bucket)
}

// DoConvert runs pack or unpack over the inputs and reports the outcome.  Some
// failed files give exitPartialFailure.
func DoConvert(ctx context.Context, con *console, s *settings, dir convert.Direction, inputs []string) int {
	if len(inputs) == 0 {
		con.Error("%s needs at least one input file, directory, or pattern", dir)
		return exitError
	}
	opts, err := s.config.ConvertOptions()
	if err != nil {
		con.Error("%v", err)
		return exitError
	}
	// The batch driver splits the unresolved budget between files and slices.
	opts.Workers = s.config.Workers.Count
	store, err := openStore(ctx, s)
	if err != nil {
		con.Error("%v", err)
		return exitError
	}
	defer store.Close()

	summary, err := batch.New(store).Run(ctx, batch.Request{
		Direction: dir,
		Inputs:    inputs,
		Output:    s.output,
		Options:   opts,
	})
	if err != nil {
		con.Error("%v", err)
		return exitError
	}
	for _, job := range summary.Jobs {
		if job.State() == convert.Done {
			con.Success("%s -> %s", job.Input, job.Output)
			if job.Direction == convert.Unpack && job.Sidecar == "" {
				con.Warning("  no header sidecar found, %s has a default header", job.Output)
			}
		} else {
			con.Error("%s failed: %v", job.Input, job.Err())
		}
	}
	if dir == convert.Pack {
		con.Printf("Size reduction: %.2f%%\n", summary.Reduction())
	}
	if s.verbose {
		con.Printf("%s\n", summary)
	}
	con.Printf("Processed %d files in %s\n", len(summary.Jobs), summary.Elapsed.Round(time.Millisecond))

	if dir == convert.Unpack && s.viewer != "" {
		if err := launchViewer(s.viewer, summary.Jobs); err != nil {
			con.Warning("could not launch viewer %q: %v", s.viewer, err)
		}
	}
	if len(summary.Failed()) != 0 {
		return exitPartialFailure
	}
	return exitOK
}

// launchViewer starts the viewer on the unpacked outputs without waiting for it.
func launchViewer(viewer string, jobs []*convert.Job) error {
	var outputs []string
	for _, job := range jobs {
		if job.State() == convert.Done {
			outputs = append(outputs, job.Output)
		}
	}
	if len(outputs) == 0 {
		return nil
	}
	cmd := exec.Command(viewer, outputs...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

func openIndex(ctx context.Context, store storage.Store, name string) (*container.Index, storage.ReaderAt, error) {
	r, err := store.ReaderAt(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	idx, err := container.NewIndex(r, r.Size())
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return idx, r, nil
}

// DoInfo prints the slice count, payload sizes, and sidecar header of a container.
func DoInfo(ctx context.Context, con *console, s *settings, cmd command) error {
	name := cmd.Argument(1)
	if name == "" {
		return fmt.Errorf("info command must be followed by a container path")
	}
	store, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer store.Close()
	idx, r, err := openIndex(ctx, store, name)
	if err != nil {
		return err
	}
	defer r.Close()

	info := server.Info(ctx, idx, name, r.Size(), sidecar.StoreLookup(store))
	con.Printf("%s: %d slices, %s\n", name, info.Slices, humanize.Bytes(uint64(info.Bytes)))
	if info.Slices > 0 {
		sizes := append([]int(nil), info.PayloadBytes...)
		sort.Ints(sizes)
		var total int
		for _, n := range sizes {
			total += n
		}
		con.Printf("slice payloads: min %s, median %s, max %s, mean %s\n",
			humanize.Bytes(uint64(sizes[0])), humanize.Bytes(uint64(sizes[len(sizes)/2])),
			humanize.Bytes(uint64(sizes[len(sizes)-1])), humanize.Bytes(uint64(total/len(sizes))))
	}
	if info.Sidecar == "" {
		con.Warning("no header sidecar")
		return nil
	}
	con.Printf("header from %s:\n", info.Sidecar)
	for _, field := range info.Header.Names() {
		con.Printf("  %-10s %v\n", field, []float64(info.Header[field]))
	}
	if s.verbose {
		for z, n := range info.PayloadBytes {
			con.Printf("  slice %4d: %d bytes\n", z, n)
		}
	}
	return nil
}

// DoExtract writes one slice of a container as a standalone image file.
func DoExtract(ctx context.Context, con *console, s *settings, cmd command) error {
	name := cmd.Argument(1)
	zStr := cmd.Argument(2)
	if name == "" || zStr == "" {
		return fmt.Errorf("extract command must be followed by a container path and slice index")
	}
	z, err := strconv.Atoi(zStr)
	if err != nil {
		return fmt.Errorf("bad slice index %q: %v", zStr, err)
	}
	store, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer store.Close()
	idx, r, err := openIndex(ctx, store, name)
	if err != nil {
		return err
	}
	defer r.Close()
	if z < 0 || z >= idx.Len() {
		return fmt.Errorf("slice %d not in [0,%d) for %s", z, idx.Len(), name)
	}
	payload, err := idx.Payload(z)
	if err != nil {
		return err
	}
	codec, err := slicecodec.Detect(payload)
	if err != nil {
		return err
	}
	if s.format != "" {
		outCodec, q, err := slicecodec.ParseFormat(s.format)
		if err != nil {
			return err
		}
		img, err := codec.Decode(payload)
		if err != nil {
			return err
		}
		if payload, err = outCodec.Encode(img, q); err != nil {
			return err
		}
		codec = outCodec
	}
	out := s.output
	if out == "" {
		out = path.Join(path.Dir(name), fmt.Sprintf("%s_z%04d.%s", convert.Stem(name), z, codec.Name()))
	}
	if err := storage.WriteAll(ctx, store, out, payload); err != nil {
		return err
	}
	con.Success("slice %d of %s -> %s", z, name, out)
	return nil
}

// DoServe browses the containers under a directory or bucket prefix until interrupted.
func DoServe(ctx context.Context, s *settings, cmd command) error {
	root := cmd.Argument(1)
	if root == "" {
		root = "."
	}
	store, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer store.Close()
	srv, err := server.New(store, root, s.config)
	if err != nil {
		return err
	}
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// DoToken prints a JWT for a user, signed with the configured server secret.
func DoToken(con *console, s *settings, cmd command) error {
	user := cmd.Argument(1)
	if user == "" {
		return fmt.Errorf("token command must be followed by a user name")
	}
	token, err := server.Token(s.config.Server.SecretKey, user)
	if err != nil {
		return fmt.Errorf("%v; set secret_key in the [server] config section", err)
	}
	con.Printf("%s\n", token)
	return nil
}
