package queue

type TranscodeRequest struct {
	JobID     string   `yaml:"jobId"`
	UserID    string   `yaml:"userId"`
	Source    string   `yaml:"source"`
	FileName  string   `yaml:"fileName"`
	Format    string   `yaml:"format"`
	Qualities []string `yaml:"qualities,omitempty"`
}

type TranscodeResponse struct {
	JobID       string `yaml:"jobId"`
	Status      string `yaml:"status"`
	ManifestURL string `yaml:"manifestUrl,omitempty"`
	Error       string `yaml:"error,omitempty"`
}
