// Package config loads SequenceManager settings from a YAML file and
// SEQMGR_ prefixed environment variables.
//
// Environment variables take precedence over the file. Nested keys use an
// underscore, e.g. SEQMGR_MANAGER_WORK_BATCH_SIZE=4.
package config
