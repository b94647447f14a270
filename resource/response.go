package resource

// Response is the tagged union flowing through the pipeline: either a
// success carrying an Entity or a failure carrying an Error. Exactly one
// variant is set. Pipeline stages may convert a success into a failure
// (parse error) but never silently promote a failure back to success.
type Response struct {
	entity *Entity
	err    *Error
}

// NewDataResponse wraps an entity in a success response.
func NewDataResponse(entity *Entity) Response {
	return Response{entity: entity}
}

// NewFailureResponse wraps an error in a failure response.
func NewFailureResponse(err *Error) Response {
	return Response{err: err}
}

// IsSuccess reports whether the success variant is active.
func (r Response) IsSuccess() bool {
	return r.entity != nil
}

// Entity returns the success payload, or nil for failures.
func (r Response) Entity() *Entity {
	return r.entity
}

// Failure returns the error payload, or nil for successes.
func (r Response) Failure() *Error {
	return r.err
}
