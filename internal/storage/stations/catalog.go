// Package stations 读取站点目录文件（YAML），用于给新设备分配站点。
package stations

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/pile-gateway/internal/storage/models"
)

var (
	ErrEmptyCode     = errors.New("station code is empty")
	ErrDuplicateCode = errors.New("duplicate station code")
)

// Entry 目录文件中的一个站点
type Entry struct {
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

type catalogFile struct {
	Stations []Entry `yaml:"stations"`
}

// Load 从文件读取站点目录
func Load(path string) ([]models.Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station catalog: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse 解析并校验站点目录；name 缺省时取 code
func Parse(r io.Reader) ([]models.Station, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode station catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Stations))
	out := make([]models.Station, 0, len(f.Stations))
	for i, e := range f.Stations {
		code := strings.TrimSpace(e.Code)
		if code == "" {
			return nil, fmt.Errorf("stations[%d]: %w", i, ErrEmptyCode)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("stations[%d] %q: %w", i, code, ErrDuplicateCode)
		}
		seen[code] = struct{}{}

		st := models.Station{Code: code, Name: strings.TrimSpace(e.Name)}
		if st.Name == "" {
			st.Name = code
		}
		if addr := strings.TrimSpace(e.Address); addr != "" {
			st.Address = &addr
		}
		out = append(out, st)
	}
	return out, nil
}
