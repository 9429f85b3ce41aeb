package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hadiid1718/VI-downloader/internal/errs"
	"github.com/hadiid1718/VI-downloader/internal/model"
	"go.uber.org/zap"
)

// Store 暂存目录管理：落盘文件的查询、投递、删除与过期清理
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore 创建暂存管理器并确保根目录存在
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", root, err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Root 暂存根目录
func (s *Store) Root() string {
	return s.root
}

// safeName 校验文件名不含路径穿越成分
func safeName(filename string) error {
	if filename == "" ||
		strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%w: %q", errs.ErrUnsafeFilename, filename)
	}
	return nil
}

// NewSession 创建本次下载独占的子目录。
// 外部工具写入子目录后再投递，避免并发下载靠修改时间猜测归属。
func (s *Store) NewSession() (string, error) {
	dir := filepath.Join(s.root, ".session-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// CollectSession 取会话目录中的成品文件并移入根目录，随后销毁会话目录。
// 多个成品时取最大的一个（合并输出场景下碎片先于成品出现）。
func (s *Store) CollectSession(sessionDir string) (model.StagedFile, error) {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return model.StagedFile{}, fmt.Errorf("read session dir: %w", err)
	}

	var best model.StagedFile
	for _, e := range entries {
		if e.IsDir() || isPartial(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > best.FileSize {
			best = model.StagedFile{
				Filename:   e.Name(),
				FileSize:   info.Size(),
				FileSizeMB: float64(info.Size()) / (1024 * 1024),
				ModifiedAt: info.ModTime(),
			}
		}
	}
	if best.Filename == "" {
		return model.StagedFile{}, fmt.Errorf("%w: no completed file in session", errs.ErrNotFound)
	}

	src := filepath.Join(sessionDir, best.Filename)
	dst := filepath.Join(s.root, best.Filename)
	if err := os.Rename(src, dst); err != nil {
		return model.StagedFile{}, fmt.Errorf("promote %s: %w", best.Filename, err)
	}
	if err := os.RemoveAll(sessionDir); err != nil {
		s.logger.Warn("failed to remove session dir", zap.String("dir", sessionDir), zap.Error(err))
	}
	return best, nil
}

// DiscardSession 丢弃会话目录及其中残留
func (s *Store) DiscardSession(sessionDir string) {
	if err := os.RemoveAll(sessionDir); err != nil {
		s.logger.Warn("failed to discard session dir", zap.String("dir", sessionDir), zap.Error(err))
	}
}

// isPartial 外部工具的中间产物
func isPartial(name string) bool {
	return strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".ytdl") ||
		strings.HasSuffix(name, ".temp")
}

// Resolve 校验文件名并返回绝对路径与元信息
func (s *Store) Resolve(filename string) (string, model.StagedFile, error) {
	if err := safeName(filename); err != nil {
		return "", model.StagedFile{}, err
	}
	path := filepath.Join(s.root, filename)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", model.StagedFile{}, fmt.Errorf("%w: %s", errs.ErrNotFound, filename)
		}
		return "", model.StagedFile{}, fmt.Errorf("stat %s: %w", filename, err)
	}
	if info.IsDir() {
		return "", model.StagedFile{}, fmt.Errorf("%w: %s", errs.ErrNotFound, filename)
	}
	return path, model.StagedFile{
		Filename:   filename,
		FileSize:   info.Size(),
		FileSizeMB: float64(info.Size()) / (1024 * 1024),
		ModifiedAt: info.ModTime(),
	}, nil
}

// List 根目录下的成品文件，按修改时间降序
func (s *Store) List() ([]model.StagedFile, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	files := make([]model.StagedFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || isPartial(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, model.StagedFile{
			Filename:   e.Name(),
			FileSize:   info.Size(),
			FileSizeMB: float64(info.Size()) / (1024 * 1024),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// Delete 删除单个成品文件
func (s *Store) Delete(filename string) error {
	path, _, err := s.Resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", filename, err)
	}
	return nil
}

// Cleanup 删除修改时间早于 maxAge 的成品文件与遗留会话目录，
// 返回删除的文件数。单个删除失败不中断整体清理。
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.root, e.Name())
		if e.IsDir() {
			// 崩溃遗留的会话目录
			if strings.HasPrefix(e.Name(), ".session-") {
				if err := os.RemoveAll(path); err != nil {
					s.logger.Warn("cleanup: failed to remove stale session", zap.String("dir", e.Name()), zap.Error(err))
				}
			}
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("cleanup: failed to remove file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("staging cleanup finished", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
	}
	return removed, nil
}
