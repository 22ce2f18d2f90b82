package domain

// ProgressFunc reports pagination progress of a remote list pull.
// Called once per page: (100, 450), (200, 450), ...
type ProgressFunc func(loaded, total int)
