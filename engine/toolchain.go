package engine

import (
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/errors"
)

// Toolchain converts a generated source file into a wasm binary by running an
// external command in a work directory. The input and output paths are
// appended to Command as "<input> -o <output>".
type Toolchain struct {
	Command   []string
	WorkDir   string
	SourceExt string
}

// DefaultToolchain returns the wat2wasm toolchain for p.
func DefaultToolchain(p bridge.Platform) *Toolchain {
	cmd := "wat2wasm"
	if p == bridge.PlatformWindows {
		cmd = "wat2wasm.exe"
	}
	return &Toolchain{Command: []string{cmd}, SourceExt: ".wat"}
}

// Compile writes src into the work directory, runs the command and returns
// the produced binary. A failing command yields *errors.CompileError carrying
// its combined output.
func (t *Toolchain) Compile(ctx context.Context, src []byte) ([]byte, error) {
	if len(t.Command) == 0 {
		return nil, errors.InvalidInput(errors.PhaseCompile, "toolchain has no command")
	}

	dir := t.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "kernelrt-")
		if err != nil {
			return nil, errors.Wrap(errors.PhaseCompile, errors.KindCompileFailed, err, "create work dir")
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindCompileFailed, err, "create work dir "+dir)
	}

	ext := t.SourceExt
	if ext == "" {
		ext = ".wat"
	}
	in := filepath.Join(dir, "generated"+ext)
	out := filepath.Join(dir, "generated.wasm")
	if err := os.WriteFile(in, src, 0o644); err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindCompileFailed, err, "write "+in)
	}

	argv := append(append([]string(nil), t.Command...), in, "-o", out)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		text := string(output)
		if len(output) == 0 {
			text = err.Error()
		}
		Logger().Warn("toolchain failed", zap.Strings("command", argv), zap.Int("exit_code", code))
		return nil, &errors.CompileError{Command: argv, Output: text, ExitCode: code}
	}

	bin, err := os.ReadFile(out)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindCompileFailed, err, "read "+out)
	}
	return bin, nil
}
