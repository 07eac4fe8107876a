package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

const (
	maxReadChars   = 4000
	maxListChars   = 3500
	maxSearchMatch = 50
)

// PathResolver: канонизация путей из политики. Обработчики проверяют путь
// повторно: между решением политики и вызовом файл мог стать ссылкой.
type PathResolver interface {
	Resolve(p string) (string, bool)
}

// Files: файловые возможности в пределах разрешенных каталогов.
type Files struct {
	paths        PathResolver
	maxReadBytes int64
	maxSendBytes int64
}

func NewFiles(paths PathResolver, maxReadBytes, maxSendBytes int64) *Files {
	return &Files{paths: paths, maxReadBytes: maxReadBytes, maxSendBytes: maxSendBytes}
}

func (f *Files) resolve(p string) (string, error) {
	resolved, ok := f.paths.Resolve(p)
	if !ok {
		return "", Fail("path not permitted", fmt.Errorf("path %q resolved outside allowed roots", p))
	}
	return resolved, nil
}

// ReadFile: текстовое содержимое файла с ограничением размера.
func (f *Files) ReadFile(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	path, err := f.resolve(args[domain.ArgFilePath])
	if err != nil {
		return domain.ActionResult{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.ActionResult{}, statError(err)
	}
	if !info.Mode().IsRegular() {
		return domain.ActionResult{}, Fail("not a file", nil)
	}
	if f.maxReadBytes > 0 && info.Size() > f.maxReadBytes {
		return domain.ActionResult{}, Fail(fmt.Sprintf("file is too large to read as text (%s), use send_file instead", FormatSize(info.Size())), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ActionResult{}, statError(err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, info.Size()+1))
	if err != nil {
		return domain.ActionResult{}, Fail("could not read the file", err)
	}
	content := strings.ToValidUTF8(string(data), "�")

	if n := utf8.RuneCountInString(content); n > maxReadChars {
		content = truncateRunes(content, maxReadChars) + fmt.Sprintf("\n\n... [truncated, %d total chars]", n)
	}
	if content == "" {
		content = "(empty file)"
	}
	return Ok(content), nil
}

// ListFiles показывает содержимое каталога, сначала папки, потом файлы с размерами.
func (f *Files) ListFiles(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	dir, err := f.resolve(args[domain.ArgDirectory])
	if err != nil {
		return domain.ActionResult{}, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return domain.ActionResult{}, statError(err)
	}
	if !info.IsDir() {
		return domain.ActionResult{}, Fail("not a directory", nil)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.ActionResult{}, statError(err)
	}
	if len(entries) == 0 {
		return Ok(fmt.Sprintf("📁 %s is empty.", dir)), nil
	}

	var dirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, fmt.Sprintf("📁 %s/", e.Name()))
			continue
		}
		if info, err := e.Info(); err == nil {
			files = append(files, fmt.Sprintf("📄 %s (%s)", e.Name(), FormatSize(info.Size())))
		} else {
			files = append(files, "📄 "+e.Name())
		}
	}

	lines := append([]string{"📂 " + dir, ""}, dirs...)
	lines = append(lines, files...)
	out := strings.Join(lines, "\n")
	if len(out) > maxListChars {
		shown := truncateBytes(out, maxListChars)
		out = shown + fmt.Sprintf("\n\n... [%d total entries, showing ~%d]", len(entries), strings.Count(shown, "\n")-1)
	}
	return Ok(out), nil
}

// SearchFiles: поиск по подстроке имени, не больше 50 совпадений.
func (f *Files) SearchFiles(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	query := strings.ToLower(strings.TrimSpace(args[domain.ArgQuery]))
	if query == "" {
		return domain.ActionResult{}, Fail("empty search query", nil)
	}
	root, err := f.resolve(args[domain.ArgDirectory])
	if err != nil {
		return domain.ActionResult{}, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return domain.ActionResult{}, Fail("directory not found", err)
	}

	var matches []string
	errStop := errors.New("stop")
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// недоступные подкаталоги пропускаем
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == root {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), query) {
			matches = append(matches, p)
			if len(matches) >= maxSearchMatch {
				return errStop
			}
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errStop) {
		return domain.ActionResult{}, Fail("search failed", walkErr)
	}

	if len(matches) == 0 {
		return Ok(fmt.Sprintf("🔍 No files matching '%s' found in %s", query, root)), nil
	}
	sort.Strings(matches)

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Search results for '%s':\n\n", query)
	for _, m := range matches {
		info, err := os.Lstat(m)
		switch {
		case err != nil:
			fmt.Fprintf(&b, "📄 %s\n", m)
		case info.IsDir():
			fmt.Fprintf(&b, "📁 %s\n", m)
		default:
			fmt.Fprintf(&b, "📄 %s (%s)\n", m, FormatSize(info.Size()))
		}
	}
	if len(matches) >= maxSearchMatch {
		fmt.Fprintf(&b, "\n⚠️ Results limited to %d matches.", maxSearchMatch)
	}
	return Ok(b.String()), nil
}

// SendFile возвращает файл вложением.
func (f *Files) SendFile(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	path, err := f.resolve(args[domain.ArgFilePath])
	if err != nil {
		return domain.ActionResult{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.ActionResult{}, statError(err)
	}
	if !info.Mode().IsRegular() {
		return domain.ActionResult{}, Fail("not a file", nil)
	}
	if f.maxSendBytes > 0 && info.Size() > f.maxSendBytes {
		return domain.ActionResult{}, Fail(fmt.Sprintf("file is too large to send (%s)", FormatSize(info.Size())), nil)
	}

	kind := domain.AttachmentFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		kind = domain.AttachmentImage
	}
	return domain.ActionResult{
		Success: true,
		Output:  fmt.Sprintf("📎 %s (%s)", filepath.Base(path), FormatSize(info.Size())),
		Attachment: &domain.Attachment{
			Path: path,
			Name: filepath.Base(path),
			Kind: kind,
		},
	}, nil
}

// DeleteFile удаляет один обычный файл. Каталоги не трогает.
func (f *Files) DeleteFile(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	path, err := f.resolve(args[domain.ArgFilePath])
	if err != nil {
		return domain.ActionResult{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.ActionResult{}, statError(err)
	}
	if !info.Mode().IsRegular() {
		return domain.ActionResult{}, Fail("only regular files can be deleted", nil)
	}
	if err := os.Remove(path); err != nil {
		return domain.ActionResult{}, statError(err)
	}
	return Ok(fmt.Sprintf("🗑️ Deleted %s (%s).", filepath.Base(path), FormatSize(info.Size()))), nil
}

// FormatSize: человекочитаемый размер.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/1024/1024/1024)
	}
}

func statError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Fail("file not found", err)
	case errors.Is(err, fs.ErrPermission):
		return Fail("permission denied", err)
	default:
		return Fail("could not access the file", err)
	}
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// truncateBytes режет по границе руны не длиннее n байт.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
