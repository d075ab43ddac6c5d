package body

import "encoding/json"

// FromJSON marshals v with the standard library encoder and wraps the
// result as an InMemory source. This mirrors the blanket `impl<T: Serialize
// + Json> IntoBodyReq for T` convenience in the original client_traits.rs,
// which let callers hand the request builder any serializable value instead
// of pre-encoding it. JSON (de)serialization itself stays out of the core
// transport's concerns; this is a builder-side convenience only.
func FromJSON(v any) (*InMemory, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return NewInMemory(data), nil
}
