package buildsys

import (
	"bufio"
	"encoding/gob"
	"os"

	"github.com/rotisserie/eris"
)

// bump when Task or Script change shape
const cacheVersion = 2

type cacheEnvelope struct {
	Version int
	Options map[string]string
	Script  *Script
}

func init() {
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
}

// WriteCache stores the option values and the evaluated script in file. Actions aren't serialized, only
// script tasks can be cached.
func WriteCache(file string, options map[string]string, script *Script) error {
	handle, err := os.Create(file)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", file)
	}
	defer handle.Close()

	writer := bufio.NewWriter(handle)
	err = gob.NewEncoder(writer).Encode(cacheEnvelope{
		Version: cacheVersion,
		Options: options,
		Script:  script,
	})
	if err != nil {
		return eris.Wrap(err, "failed to encode task cache")
	}

	return writer.Flush()
}

// ReadCache loads a cache file written by WriteCache
func ReadCache(file string) (map[string]string, *Script, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer handle.Close()

	var envelope cacheEnvelope
	if err = gob.NewDecoder(bufio.NewReader(handle)).Decode(&envelope); err != nil {
		return nil, nil, eris.Wrap(err, "failed to decode task cache")
	}

	if envelope.Version != cacheVersion {
		return nil, nil, eris.Errorf("task cache has version %d, expected %d", envelope.Version, cacheVersion)
	}

	if envelope.Options == nil {
		envelope.Options = map[string]string{}
	}

	return envelope.Options, envelope.Script, nil
}
