// Package common_tools provides ready-made tools for agents.
//
// Available tools:
//   - GetWeather: Get weather information for a location
//   - Search: Search the web using Perplexity API
//   - WebFetch: Fetch a URL and extract readable text
//   - Browser_Alert: Trigger an alert in the user's browser
//   - Browser_Prompt: Show a prompt dialog in the user's browser
//
// Every tool takes a single string argument and returns a string result, the
// signature the agent's tool executor expects.
package common_tools
