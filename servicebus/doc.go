/*
Package servicebus routes typed admin requests to their handlers.
Each request type has exactly one handler; a shared middleware chain wraps every call.
It stays decoupled from transports: the CLI and any other surface talk to it through Ask or Call.
*/
package servicebus
