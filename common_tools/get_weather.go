package common_tools

// GetWeather is a demo tool that reports the weather in a location.
func GetWeather(location string) (string, error) {
	return "The weather in " + location + " is sunny", nil
}
