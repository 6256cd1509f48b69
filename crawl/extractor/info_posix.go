package extractor

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	goeval "github.com/edisonguo/govaluate"
)

// DefaultMetadataPattern selects directories and yaml documents.
const DefaultMetadataPattern = `type == 'd' || path =~ '\\.ya?ml$'`

// ExtractPosix crawls rootDir and writes one record per matching file
// to w, as JSON lines or tab separated "path\tposix\tjson".
func ExtractPosix(w io.Writer, rootDir string, conc int, pattern string, followSymlink bool, outputFormat string) error {
	infos, err := FindFiles(rootDir, conc, pattern, followSymlink)
	for _, info := range infos {
		out, _ := json.Marshal(info)
		rec := string(out)
		if outputFormat == "tsv" {
			rec = fmt.Sprintf("%s\tposix\t%s", info.FilePath, rec)
		}
		fmt.Fprintf(w, "%s\n", rec)
	}
	return err
}

// FindFiles returns the regular files under rootDir accepted by the
// pattern expression, sorted by path. Errors met on the way are
// collected and returned alongside the files found.
func FindFiles(rootDir string, conc int, pattern string, followSymlink bool) ([]*PosixInfo, error) {
	absRootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}

	expr, err := parsePatternExpression(pattern)
	if err != nil {
		return nil, err
	}

	crawler := NewPosixCrawler(conc, expr, followSymlink)
	infos, err := crawler.Crawl(absRootDir)
	sort.Slice(infos, func(i, j int) bool { return infos[i].FilePath < infos[j].FilePath })
	return infos, err
}

func GetPosixInfo(filePath string, fStat os.FileInfo) *PosixInfo {
	mtime := fStat.ModTime().UTC()
	fileSignature := fmt.Sprintf("%s%d%d", filePath, fStat.Size(), mtime.UnixNano())
	return &PosixInfo{
		FilePath: filePath,
		Size:     fStat.Size(),
		MTime:    mtime,
		ID:       fmt.Sprintf("%x", md5.Sum([]byte(fileSignature))),
	}
}

func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": struct{}{}, "type": struct{}{}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, type", varName)
			}
		}
	}
	return expr, nil
}

const DefaultMaxPosixErrors = 1000

// PosixCrawler walks a directory tree with at most conc directories
// read concurrently; deeper directories are walked inline once the
// limit is reached.
type PosixCrawler struct {
	wg            sync.WaitGroup
	concLimit     chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool

	mu      sync.Mutex
	outputs []*PosixInfo
	errors  []string
}

func NewPosixCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool) *PosixCrawler {
	if conc <= 0 {
		conc = 1
	}
	return &PosixCrawler{
		concLimit:     make(chan struct{}, conc),
		pattern:       pattern,
		followSymlink: followSymlink,
	}
}

func (pc *PosixCrawler) Crawl(currPath string) ([]*PosixInfo, error) {
	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(currPath, false)
	pc.wg.Wait()

	if len(pc.errors) > 0 {
		return pc.outputs, fmt.Errorf("%s", strings.Join(pc.errors, "\n"))
	}
	return pc.outputs, nil
}

func (pc *PosixCrawler) addError(err error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.errors) < DefaultMaxPosixErrors {
		pc.errors = append(pc.errors, err.Error())
	} else if len(pc.errors) == DefaultMaxPosixErrors {
		pc.errors = append(pc.errors, " ... too many errors")
	}
}

func (pc *PosixCrawler) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.addError(fmt.Errorf("Could not read dir: %v", err))
		return
	}

	for _, entry := range entries {
		filePath := filepath.Join(currPath, entry.Name())
		fileMode := entry.Type()

		var fStat os.FileInfo
		if fileMode&os.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			fStat, err = os.Stat(filePath)
			if err != nil {
				pc.addError(err)
				continue
			}
			fileMode = fStat.Mode().Type()
		}

		isDir := fileMode.IsDir()
		if !isDir && !fileMode.IsRegular() {
			continue
		}

		if pc.pattern != nil {
			ok, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.addError(err)
				continue
			}
			if !ok {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go pc.crawlDir(filePath, false)
			default:
				pc.crawlDir(filePath, true)
			}
			continue
		}

		if fStat == nil {
			fStat, err = entry.Info()
			if err != nil {
				pc.addError(err)
				continue
			}
		}

		pc.mu.Lock()
		pc.outputs = append(pc.outputs, GetPosixInfo(filePath, fStat))
		pc.mu.Unlock()
	}
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{"type": fileType, "path": filePath}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

// ExtractDir crawls rootDir for metadata documents and parses each.
func ExtractDir(rootDir string, conc int) ([]*GeoFile, error) {
	infos, err := FindFiles(rootDir, conc, DefaultMetadataPattern, true)
	if err != nil {
		return nil, err
	}

	var geoFiles []*GeoFile
	for _, info := range infos {
		gf, err := ExtractSentinel2Yaml(info.FilePath)
		if err != nil {
			return nil, err
		}
		gf.PosixInfo = info
		geoFiles = append(geoFiles, gf)
	}
	return geoFiles, nil
}
