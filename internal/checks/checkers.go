package checks

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"strings"

	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// maxHashFileSize bounds how much of a .sha256/.sha512 file is read.
const maxHashFileSize = 64 * 1024

// HashingChecker verifies a published checksum file against its artifact.
// The primary path is the checksum file; the subject artifact is the same
// path minus the algorithm suffix.
type HashingChecker struct{}

func (HashingChecker) Run(ctx context.Context, args *FunctionArguments) (any, error) {
	rec := args.NewRecorder()

	var algo string
	var h hash.Hash
	switch {
	case strings.HasSuffix(args.PrimaryRelPath, ".sha256"):
		algo, h = "sha256", sha256.New()
	case strings.HasSuffix(args.PrimaryRelPath, ".sha512"):
		algo, h = "sha512", sha512.New()
	default:
		return nil, rec.Exception(ctx, "not a recognized checksum file", nil, "")
	}

	published, namedFile, err := readChecksumFile(args.PrimaryAbsPath)
	if err != nil {
		return nil, rec.Exception(ctx, fmt.Sprintf("cannot read checksum file: %v", err), nil, "")
	}
	if len(published) != h.Size()*2 {
		return nil, rec.Failure(ctx,
			fmt.Sprintf("checksum has %d hex characters, %s needs %d", len(published), algo, h.Size()*2),
			nil, "")
	}

	artifactRel := strings.TrimSuffix(args.PrimaryRelPath, "."+algo)
	artifactAbs := strings.TrimSuffix(args.PrimaryAbsPath, "."+algo)

	f, err := os.Open(artifactAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rec.Failure(ctx, "checksum file has no matching artifact", nil, "")
		}
		return nil, rec.Exception(ctx, fmt.Sprintf("cannot open artifact: %v", err), nil, "")
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return nil, rec.Exception(ctx, fmt.Sprintf("cannot hash artifact: %v", err), nil, "")
	}
	computed := hex.EncodeToString(h.Sum(nil))

	if !strings.EqualFold(computed, published) {
		return nil, rec.Failure(ctx, "checksum does not match the artifact", map[string]any{
			"algorithm": algo, "published": published, "computed": computed,
		}, artifactRel)
	}
	if namedFile != "" && namedFile != path.Base(artifactRel) {
		if err := rec.Warning(ctx,
			fmt.Sprintf("checksum file names %q, artifact is %q", namedFile, path.Base(artifactRel)),
			nil, artifactRel); err != nil {
			return nil, err
		}
	}
	return map[string]any{"algorithm": algo, "verified": artifactRel},
		rec.Success(ctx, "checksum matches the artifact", map[string]any{"algorithm": algo}, artifactRel)
}

// readChecksumFile parses "<hex>" or "<hex>  <filename>" (coreutils format)
// from the first line.
func readChecksumFile(p string) (digest, filename string, err error) {
	f, err := os.Open(p)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxHashFileSize))
	if err != nil {
		return "", "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", atrerrors.Newf(atrerrors.KindValidation, "checksum file is empty")
	}
	digest = strings.ToLower(fields[0])
	if len(fields) > 1 {
		filename = strings.TrimPrefix(fields[len(fields)-1], "*")
	}
	return digest, filename, nil
}

// artifactSuffixes are the archive forms the paths check treats as release
// artifacts.
var artifactSuffixes = []string{".tar.gz", ".tgz", ".zip"}

// PathsChecker is the release-level check: every artifact must carry a
// detached signature, should carry a checksum, and is classified against the
// policy's source/binary globs.
type PathsChecker struct {
	Store   *storage.Store
	Content *content.Store
}

func (c PathsChecker) Run(ctx context.Context, args *FunctionArguments) (any, error) {
	rec := args.NewRecorder()

	dir := c.Content.UnfinishedDir(args.Project, args.Version, args.Revision)
	files, err := c.Content.ListFiles(dir)
	if err != nil {
		return nil, rec.Exception(ctx, fmt.Sprintf("cannot enumerate revision files: %v", err), nil, "")
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}

	policy, err := c.Store.Queries().ResolveReleasePolicy(ctx, args.Project)
	if atrerrors.IsKind(err, atrerrors.KindNotFound) {
		policy = &storage.ReleasePolicy{}
	} else if err != nil {
		return nil, err
	}

	artifacts := 0
	for _, file := range files {
		if !isArtifact(file) {
			continue
		}
		artifacts++
		if !present[file+".asc"] {
			if err := rec.Failure(ctx, "artifact has no detached signature", nil, file); err != nil {
				return nil, err
			}
		}
		if !present[file+".sha256"] && !present[file+".sha512"] {
			if err := rec.Warning(ctx, "artifact has no checksum file", nil, file); err != nil {
				return nil, err
			}
		}
		class := classifyArtifact(file, policy)
		if class == "" {
			if err := rec.Warning(ctx, "artifact matches neither source nor binary policy globs", nil, file); err != nil {
				return nil, err
			}
		}
	}

	summary := map[string]any{"files": len(files), "artifacts": artifacts}
	return summary, rec.Success(ctx,
		fmt.Sprintf("%d artifacts among %d files", artifacts, len(files)), summary, "")
}

func isArtifact(file string) bool {
	for _, suffix := range artifactSuffixes {
		if strings.HasSuffix(file, suffix) {
			return true
		}
	}
	return false
}

// classifyArtifact returns "source", "binary", or "" when no policy glob
// matches. An unconfigured policy classifies everything as source.
func classifyArtifact(file string, policy *storage.ReleasePolicy) string {
	if len(policy.SourceArtifactGlobs) == 0 && len(policy.BinaryArtifactGlobs) == 0 {
		return "source"
	}
	for _, glob := range policy.SourceArtifactGlobs {
		if ok, _ := path.Match(glob, file); ok {
			return "source"
		}
	}
	for _, glob := range policy.BinaryArtifactGlobs {
		if ok, _ := path.Match(glob, file); ok {
			return "binary"
		}
	}
	return ""
}
