package support

func DefaultPaths() (Paths, error) {
	return Paths{
		LogFile: "C:\\Program Files\\edna\\log\\edna.log",
		DataDir: "C:\\Program Files\\edna\\data",
	}, nil
}
