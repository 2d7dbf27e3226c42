// Package pidfile implements the daemon's single-instance lock.
//
// The lock is a plain-text file holding one integer (the daemon's PID)
// followed by a newline. Acquisition uses an exclusive create so two
// bridges racing for the same path cannot both win. A file naming a
// live process refuses startup; stale files left by a crashed instance
// are removed automatically.
package pidfile
