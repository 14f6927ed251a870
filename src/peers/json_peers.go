package peers

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

const jsonPeerPath = "peers.json"

// JSONPeers is used to persist the addresses a node dials on startup, in the
// form of a JSON array of "host:port" strings. This allows human operators to
// manipulate the file.
type JSONPeers struct {
	l    sync.Mutex
	path string
}

// NewJSONPeers creates a new JSONPeers store in the base directory.
func NewJSONPeers(base string) *JSONPeers {
	return &JSONPeers{
		path: filepath.Join(base, jsonPeerPath),
	}
}

// Path ...
func (j *JSONPeers) Path() string {
	return j.path
}

// Addresses reads the address list. A missing or empty file yields no
// addresses and no error.
func (j *JSONPeers) Addresses() ([]string, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, nil
	}

	var addrs []string
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&addrs); err != nil {
		return nil, err
	}

	return addrs, nil
}

// SetAddresses overwrites the address list.
func (j *JSONPeers) SetAddresses(addrs []string) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(addrs); err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}
