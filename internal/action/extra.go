package action

import "gopkg.in/yaml.v3"

// MarshalExtra serialises an Extra payload to its stored YAML form.
func MarshalExtra(e Extra) (string, error) {
	out, err := yaml.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// UnmarshalExtra parses the stored YAML form of a task's extra column. An
// empty string (never-written column) decodes to the zero value.
func UnmarshalExtra(s string) (Extra, error) {
	var e Extra
	if s == "" {
		return e, nil
	}
	if err := yaml.Unmarshal([]byte(s), &e); err != nil {
		return Extra{}, err
	}
	return e, nil
}
