package stage

import "fmt"

// Name identifies a pipeline stage.
type Name string

const (
	Fetch      Name = "fetch"
	Convert    Name = "convert"
	Upload     Name = "upload"
	Transcribe Name = "transcribe"
	Annotate   Name = "annotate"
)

// Order lists the executor stages in the fixed order items move through them.
func Order() []Name {
	return []Name{Convert, Upload, Transcribe, Annotate}
}

// Previous returns the stage whose output feeds name. Convert reads the raw
// fetched file.
func Previous(name Name) Name {
	order := Order()
	for i, candidate := range order {
		if candidate == name {
			if i == 0 {
				return Fetch
			}
			return order[i-1]
		}
	}
	return ""
}

// Parse validates a stage name.
func Parse(value string) (Name, error) {
	for _, name := range Order() {
		if string(name) == value {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

// Ref points at one artifact: a local file or an object in durable storage.
type Ref struct {
	Stage Name
	Path  string
	Key   string
	URI   string
}

// Remote reports whether the artifact lives in object storage.
func (r Ref) Remote() bool {
	return r.Key != ""
}

func (r Ref) String() string {
	if r.Remote() {
		return r.URI
	}
	return r.Path
}
