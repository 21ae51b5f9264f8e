package identity

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/mosaicnetworks/notarium/src/common"
)

const jsonDirectoryPath = "parties.json"

// JSONDirectory is used to provide network map persistence on disk in the form
// of a JSON file.
type JSONDirectory struct {
	l    sync.Mutex
	path string
}

// NewJSONDirectory creates a new JSONDirectory with reference to a base
// directory where the JSON file resides.
func NewJSONDirectory(base string) *JSONDirectory {
	return &JSONDirectory{
		path: filepath.Join(base, jsonDirectoryPath),
	}
}

// Directory parses the underlying JSON file and returns the corresponding
// Directory.
func (j *JSONDirectory) Directory() (*Directory, error) {
	j.l.Lock()
	defer j.l.Unlock()

	// Read the file
	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	// Check for no nodes
	if len(buf) == 0 {
		return nil, nil
	}

	// Decode the nodes
	var nodes []*NodeInfo
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&nodes); err != nil {
		return nil, err
	}

	// standardise the key strings to match the format derived from a
	// private key
	for _, n := range nodes {
		n.PubKeyHex = common.NormalizeHex(n.PubKeyHex)
	}

	return NewDirectory(nodes), nil
}

// Write persists a list of nodes to a JSON file.
func (j *JSONDirectory) Write(nodes []*NodeInfo) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "\t")
	if err := enc.Encode(nodes); err != nil {
		return err
	}

	// Write out as JSON
	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}
