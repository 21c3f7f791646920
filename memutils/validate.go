package memutils

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method
type Validatable interface {
	Validate() error
}

// Statistician is implemented by every structure in this module that can sum its
// usage into a Statistics object
type Statistician interface {
	AddStatistics(stats *Statistics)
}
