package compilerinfo

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/Sumatoshi-tech/sccached/internal/runner"
)

// DetectDefault is the Detector used when no per-compiler detection is
// configured: it runs "<path> --version" and classifies the output by
// scanning for the vendor strings gcc/clang/g++ emit, the common-denominator
// probe spec.md §4.C describes ("a short version-probe subprocess"). MSVC's
// "/version"-less `cl.exe` convention is out of scope for this default probe
// (spec.md Non-goals exclude per-compiler dialects beyond the default GCC/
// Clang-like one); a path that doesn't look like gcc or clang is reported
// as not-found rather than misclassified.
func DetectDefault(ctx context.Context, r runner.Runner, path string) (Compiler, bool, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return Compiler{}, false, nil
	}

	out, err := r.Run(ctx, "", []string{path, "--version"}, nil, nil)
	if err != nil {
		return Compiler{}, false, nil
	}

	if !out.Success() {
		return Compiler{}, false, nil
	}

	firstLine := firstLineOf(out.Stdout)
	lower := strings.ToLower(firstLine)

	var kind Kind

	switch {
	case strings.Contains(lower, "clang"):
		kind = KindClang
	case strings.Contains(lower, "gcc"), strings.Contains(lower, "g++"):
		kind = KindGCC
	default:
		return Compiler{}, false, nil
	}

	return Compiler{
		Kind:       kind,
		Executable: path,
		ModTime:    info.ModTime(),
		Version:    firstLine,
	}, true, nil
}

func firstLineOf(data []byte) string {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[:i]
	}

	return strings.TrimSpace(string(data))
}
