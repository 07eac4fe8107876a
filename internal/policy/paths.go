package policy

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PathResolver приводит путь из аргумента к каноническому абсолютному виду и
// проверяет, что он лежит внутри одного из разрешенных корней.
// Проверка идет после раскрытия ".", ".." и символических ссылок.
type PathResolver struct {
	roots []string // канонические корни
}

func NewPathResolver(dirs []string) *PathResolver {
	roots := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		c, err := canonicalize(d, "")
		if err != nil {
			continue
		}
		roots = append(roots, c)
	}
	return &PathResolver{roots: roots}
}

// Resolve возвращает канонический путь, если он разрешен.
// Относительный путь считается от первого корня.
func (r *PathResolver) Resolve(p string) (string, bool) {
	if len(r.roots) == 0 || strings.TrimSpace(p) == "" {
		return "", false
	}
	c, err := canonicalize(p, r.roots[0])
	if err != nil {
		return "", false
	}
	for _, root := range r.roots {
		if within(root, c) {
			return c, true
		}
	}
	return "", false
}

// DefaultRoot: корень для относительных путей и поиска без каталога.
func (r *PathResolver) DefaultRoot() string {
	if len(r.roots) == 0 {
		return ""
	}
	return r.roots[0]
}

func within(root, p string) bool {
	if runtime.GOOS == "windows" {
		root, p = strings.ToLower(root), strings.ToLower(p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// canonicalize раскрывает ~, делает путь абсолютным относительно base
// и разрешает символические ссылки, чтобы их нельзя было использовать для обхода.
func canonicalize(p, base string) (string, error) {
	// Обратные слэши считаем разделителями на любой ОС
	p = filepath.FromSlash(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"))

	if p == "~" || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	if !filepath.IsAbs(p) {
		if base != "" {
			p = filepath.Join(base, p)
		} else {
			abs, err := filepath.Abs(p)
			if err != nil {
				return "", err
			}
			p = abs
		}
	}
	p = filepath.Clean(p)

	resolved, err := resolveSymlinksWalkUp(p)
	if err != nil {
		return p, nil
	}
	return resolved, nil
}

// resolveSymlinksWalkUp поднимается по дереву до существующего предка,
// разрешает ссылки в нем и достраивает остаток пути.
func resolveSymlinksWalkUp(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}

	resolvedParent, err := resolveSymlinksWalkUp(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}
