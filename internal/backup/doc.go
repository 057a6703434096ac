// Package backup runs vmkeep's jobs: the libvirt configuration archive,
// in-place reflink snapshots of VM disk images, and backup copies of VM
// disks to a second location, each followed by retention.
//
// An Orchestrator walks the run through its setup phases (validation, tool
// lookup, target resolution, source mount check), then runs each enabled
// job. Jobs are independent: a job that fails does not stop the others.
// Within a job every VM and disk produces an Outcome; per-target problems
// are recorded as warnings and the batch continues, while environment
// problems stop the job.
//
// Dependencies are consumer-side interfaces (see interfaces.go) so tests
// can replace the hypervisor, the filesystem probe, and the file
// primitives.
package backup
