package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"link-auditor/pkg/models"
	"link-auditor/pkg/utils"
)

// VisitsFilename is the fixed name of the visit record log. Error logs
// are named from their origin by ErrorLogFilename.
const VisitsFilename = "scraped_pages.json"

// ErrorLogFilename maps an origin to its error log name: every path
// separator becomes a double underscore so the name is flat. The root
// origin "/" maps to "__.json".
func ErrorLogFilename(origin string) string {
	return strings.ReplaceAll(origin, "/", "__") + ".json"
}

// outputFile pairs one open log with its write lock. Appends to one
// file serialize on this lock so records never interleave; appends to
// different files proceed in parallel.
type outputFile struct {
	mu   sync.Mutex
	file *os.File
}

// OutputManager owns the append-only NDJSON record logs of one site
// audit. Files open lazily on first append and stay open until Close;
// in non-resume mode the first open truncates whatever a previous run
// left behind.
type OutputManager struct {
	log    *logrus.Entry
	dir    string
	resume bool

	mu    sync.Mutex // guards files
	files map[string]*outputFile
}

// NewOutputManager creates a manager writing under dir. The directory
// must exist before the first append.
func NewOutputManager(dir string, resume bool, log *logrus.Entry) *OutputManager {
	return &OutputManager{
		log:    log,
		dir:    dir,
		resume: resume,
		files:  make(map[string]*outputFile),
	}
}

// AppendVisit records a successfully visited page in the visits log.
func (om *OutputManager) AppendVisit(pageURL string) error {
	return om.appendRecord(VisitsFilename, models.VisitRecord{URL: pageURL})
}

// AppendError records a failed link in the log of the origin page that
// discovered it.
func (om *OutputManager) AppendError(origin, link, status string) error {
	return om.appendRecord(ErrorLogFilename(origin), models.LinkErrorRecord{Link: link, Status: status})
}

// appendRecord marshals record and appends it as one line to the named
// log, opening the file on first use.
func (om *OutputManager) appendRecord(name string, record any) error {
	of, err := om.fileFor(name)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return utils.WrapErrorf(err, "marshaling record for %s", name)
	}

	of.mu.Lock()
	defer of.mu.Unlock()
	if _, err := of.file.Write(append(data, '\n')); err != nil {
		return utils.WrapErrorf(err, "appending to %s", name)
	}
	return nil
}

// fileFor returns the open handle for name, creating it on first use.
func (om *OutputManager) fileFor(name string) (*outputFile, error) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if of, ok := om.files[name]; ok {
		return of, nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !om.resume {
		flags |= os.O_TRUNC
	}
	path := filepath.Join(om.dir, name)
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening output log %q: %w", utils.ErrFilesystem, path, err)
	}
	om.log.WithFields(logrus.Fields{"file": path, "resume": om.resume}).Debug("Opened output log")

	of := &outputFile{file: file}
	om.files[name] = of
	return of, nil
}

// Close syncs and closes every open log, collecting errors. The
// manager must not be used after Close.
func (om *OutputManager) Close() error {
	om.mu.Lock()
	defer om.mu.Unlock()

	var errs []error
	for name, of := range om.files {
		of.mu.Lock()
		if err := of.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("syncing %s: %w", name, err))
		}
		if err := of.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		of.mu.Unlock()
	}
	om.files = make(map[string]*outputFile)
	return errors.Join(errs...)
}
