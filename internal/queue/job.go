package queue

import (
	"encoding/json"
	"fmt"
)

// Job is the payload carried on the stream.
type Job struct {
	JobID          string `json:"job_id"`
	FilePath       string `json:"file_path"`
	User           string `json:"user"`
	Enrich         bool   `json:"enrich"`
	Source         string `json:"source"`
	Attempt        int    `json:"attempt"`
	IdempotencyKey string `json:"idempotency_key"`
}

// NewJob fills the defaults for a first attempt.
func NewJob(jobID, filePath, user, source string, enrich bool) Job {
	if source == "" {
		source = "api"
	}
	return Job{
		JobID:          jobID,
		FilePath:       filePath,
		User:           user,
		Enrich:         enrich,
		Source:         source,
		Attempt:        1,
		IdempotencyKey: "doc:" + jobID,
	}
}

// Encode returns the JSON form stored in the stream.
func (j Job) Encode() ([]byte, error) { return json.Marshal(j) }

// Decode parses a stream payload.
func Decode(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.JobID == "" || j.FilePath == "" {
		return Job{}, fmt.Errorf("decode job: missing job_id or file_path")
	}
	if j.Attempt <= 0 {
		j.Attempt = 1
	}
	return j, nil
}
